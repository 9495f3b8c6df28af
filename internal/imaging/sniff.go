package imaging

import (
	"bytes"
	"mime"
	"net/url"
	"path"
	"strings"
)

const defaultMIME = "image/png"

var signatures = []struct {
	mimeType string
	match    func([]byte) bool
}{
	{"image/png", func(b []byte) bool { return bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")) }},
	{"image/jpeg", func(b []byte) bool { return bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF}) }},
	{"image/gif", func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a"))
	}},
	{"image/webp", func(b []byte) bool {
		return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
	}},
	{"image/bmp", func(b []byte) bool { return bytes.HasPrefix(b, []byte("BM")) }},
}

var suffixMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

var mimeExtension = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
}

// DetectMIME resolves an image type from, in order: magic bytes, the
// Content-Type header, the URL suffix, then image/png.
func DetectMIME(data []byte, contentType, rawURL string) string {
	for _, sig := range signatures {
		if sig.match(data) {
			return sig.mimeType
		}
	}

	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "image/") {
			return mt
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		if mt, ok := suffixMIME[strings.ToLower(path.Ext(u.Path))]; ok {
			return mt
		}
	}

	return defaultMIME
}

// ExtensionFor maps a MIME type to a file extension, defaulting to png.
func ExtensionFor(mimeType string) string {
	if ext, ok := mimeExtension[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return "png"
}
