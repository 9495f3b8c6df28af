package provider

import (
	"errors"
	"regexp"
	"strings"
)

// Identity is the backend a credential belongs to.
type Identity int

const (
	Unknown Identity = iota
	VolcEngine
	Gitee
	ModelScope
	HuggingFace
)

func (i Identity) String() string {
	switch i {
	case VolcEngine:
		return "VolcEngine"
	case Gitee:
		return "Gitee"
	case ModelScope:
		return "ModelScope"
	case HuggingFace:
		return "HuggingFace"
	default:
		return "Unknown"
	}
}

// ErrUnknownProvider means the credential matched no known shape.
var ErrUnknownProvider = errors.New("invalid API key format, could not detect provider")

var (
	uuidPattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	giteePattern = regexp.MustCompile(`^[a-zA-Z0-9]{30,60}$`)
)

// Detect classifies a credential by shape. Rules are ordered; the first
// match wins.
func Detect(credential string) Identity {
	switch {
	case credential == "":
		return Unknown
	case strings.HasPrefix(credential, "hf_"):
		return HuggingFace
	case strings.HasPrefix(credential, "ms-"):
		return ModelScope
	case uuidPattern.MatchString(credential):
		return VolcEngine
	case giteePattern.MatchString(credential):
		return Gitee
	default:
		return Unknown
	}
}

// KeyPrefix returns a log-safe prefix of a credential.
func KeyPrefix(credential string) string {
	if len(credential) <= 4 {
		return credential
	}
	return credential[:4] + "..."
}
