// Package imaging converts images between remote URLs and inline bytes,
// guards outbound fetches and uploads inline images to an external store.
package imaging

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Ref refers to one image, either by remote URL or by inline bytes.
// The zero value is invalid; use RemoteURL or Inline.
type Ref struct {
	url      string
	data     []byte
	mimeType string
}

// RemoteURL returns a Ref pointing at a remote image.
func RemoteURL(u string) Ref {
	return Ref{url: u}
}

// Inline returns a Ref holding image bytes.
func Inline(data []byte, mimeType string) Ref {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return Ref{data: data, mimeType: mimeType}
}

func (r Ref) IsInline() bool   { return r.url == "" }
func (r Ref) URL() string      { return r.url }
func (r Ref) Data() []byte     { return r.data }
func (r Ref) MIMEType() string { return r.mimeType }

// DataURI renders an inline Ref as a base64 data URI. Remote refs return
// their URL unchanged.
func (r Ref) DataURI() string {
	if !r.IsInline() {
		return r.url
	}
	return "data:" + r.mimeType + ";base64," + base64.StdEncoding.EncodeToString(r.data)
}

// String is a log-safe summary that never includes inline payloads.
func (r Ref) String() string {
	if r.IsInline() {
		return fmt.Sprintf("inline %s %d bytes", r.mimeType, len(r.data))
	}
	return r.url
}

var errBadDataURI = errors.New("malformed data URI")

// ParseRef interprets a caller-supplied image reference: base64 data URIs
// become inline refs, anything else is treated as a URL.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, errors.New("empty image reference")
	}
	if !strings.HasPrefix(s, "data:") {
		return RemoteURL(s), nil
	}

	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return Ref{}, errBadDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some clients strip padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %v", errBadDataURI, err)
		}
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	return Inline(data, mimeType), nil
}
