package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		credential string
		want       Identity
	}{
		{"a1b2c3d4-e5f6-7890-abcd-1234567890ab", VolcEngine},
		{"A1B2C3D4-E5F6-7890-ABCD-1234567890AB", VolcEngine},
		{"ms-xxxxxxxx", ModelScope},
		{"hf_xxxxxxxx", HuggingFace},
		{strings.Repeat("aB3", 13) + "x", Gitee},
		{strings.Repeat("a", 30), Gitee},
		{strings.Repeat("a", 60), Gitee},
		{strings.Repeat("a", 61), Unknown},
		{strings.Repeat("a", 29), Unknown},
		{"", Unknown},
		{"abcde", Unknown},
		{"a1b2c3d4-e5f6-7890-abcd-1234567890", Unknown},
		{"sk-" + strings.Repeat("a", 40), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.credential, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.credential))
		})
	}
}

func TestDetectPrefixWinsOverShape(t *testing.T) {
	// also 30-60 alphanumeric after the prefix, but the prefix rule comes first
	assert.Equal(t, HuggingFace, Detect("hf_"+strings.Repeat("a", 40)))
	assert.Equal(t, ModelScope, Detect("ms-a1b2c3d4-e5f6-7890-abcd-1234567890ab"))
}

func TestIdentityString(t *testing.T) {
	assert.Equal(t, "VolcEngine", VolcEngine.String())
	assert.Equal(t, "Gitee", Gitee.String())
	assert.Equal(t, "ModelScope", ModelScope.String())
	assert.Equal(t, "HuggingFace", HuggingFace.String())
	assert.Equal(t, "Unknown", Identity(42).String())
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "hf_x...", KeyPrefix("hf_xxxxxxxx"))
	assert.Equal(t, "abc", KeyPrefix("abc"))
}
