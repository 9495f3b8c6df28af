package imaging

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiError struct{ code, msg string }

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3 struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*in.Bucket+"/"+*in.Key] = data
	m.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreUpload(t *testing.T) {
	m := &mockS3{objects: map[string][]byte{}, types: map[string]string{}}
	store := NewS3Store(m, "images", "/router/", "https://cdn.example.com/")

	u, err := store.Upload(context.Background(), []byte("jpegdata"), "image/jpeg")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(u, "https://cdn.example.com/router/"))
	assert.True(t, strings.HasSuffix(u, ".jpg"))
	key := strings.TrimPrefix(u, "https://cdn.example.com/")
	assert.Equal(t, []byte("jpegdata"), m.objects["images/"+key])
	assert.Equal(t, "image/jpeg", m.types[key])
	assert.Equal(t, "cdn.example.com", store.Host())
}

func TestS3StoreUploadError(t *testing.T) {
	m := &mockS3{putErr: &apiError{code: "AccessDenied", msg: "denied"}}
	store := NewS3Store(m, "images", "", "https://cdn.example.com")

	_, err := store.Upload(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}
