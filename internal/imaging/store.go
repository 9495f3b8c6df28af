package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/google/uuid"
)

// Store uploads image bytes and returns a public URL for them.
type Store interface {
	Upload(ctx context.Context, data []byte, mimeType string) (string, error)
	// Host is the hostname uploaded images are served from.
	Host() string
}

// NewStore builds the backend selected by cfg.Kind.
func NewStore(cfg config.ImageStoreConfig, client *http.Client) (Store, error) {
	switch cfg.Kind {
	case "imgbed", "":
		return NewImgBedStore(cfg.ImgBed, client), nil
	case "s3":
		return NewS3Store(NewS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported image store %q", cfg.Kind)
	}
}

// WriteImagePart adds a file part with an explicit image Content-Type.
func WriteImagePart(w *multipart.Writer, field, filename string, data []byte, mimeType string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// ImgBedStore uploads to a CloudFlare ImgBed instance.
type ImgBedStore struct {
	cfg    config.ImgBedConfig
	client *http.Client
}

func NewImgBedStore(cfg config.ImgBedConfig, client *http.Client) *ImgBedStore {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ImgBedStore{cfg: cfg, client: client}
}

func (s *ImgBedStore) Host() string {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

type imgBedEntry struct {
	Src string `json:"src"`
}

func (s *ImgBedStore) Upload(ctx context.Context, data []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	filename := uuid.New().String() + "." + ExtensionFor(mimeType)
	if err := WriteImagePart(writer, "file", filename, data, mimeType); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	query := url.Values{}
	if s.cfg.AuthCode != "" {
		query.Set("authCode", s.cfg.AuthCode)
	}
	if s.cfg.Folder != "" {
		query.Set("uploadFolder", s.cfg.Folder)
	}
	if s.cfg.Channel != "" {
		query.Set("uploadChannel", s.cfg.Channel)
	}
	endpoint := s.cfg.BaseURL + "/upload"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image store upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read image store response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image store error (%d): %s", resp.StatusCode, string(body))
	}

	var entries []imgBedEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", fmt.Errorf("image store returned unexpected payload: %s", string(body))
	}
	if len(entries) == 0 || entries[0].Src == "" {
		return "", fmt.Errorf("image store returned no source: %s", string(body))
	}

	src := entries[0].Src
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}
	if !strings.HasPrefix(src, "/") {
		src = "/" + src
	}
	return s.cfg.BaseURL + src, nil
}

var _ Store = (*ImgBedStore)(nil)
