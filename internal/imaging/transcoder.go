package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/cheahjs/img-router/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const (
	maxImageBytes  = 20 << 20
	maxDetailBytes = 1 << 20
	maxRedirects   = 10
)

// Options configures a Transcoder.
type Options struct {
	Guard         *Guard
	Store         Store
	Client        *http.Client
	FetchTimeout  time.Duration
	UploadTimeout time.Duration
	// Concurrency bounds parallel conversions in ToInline and ToRemote.
	Concurrency int
}

// Transcoder moves images between remote and inline representations.
// It holds no per-request state and is safe for concurrent use.
type Transcoder struct {
	guard         *Guard
	store         Store
	client        *http.Client
	fetchTimeout  time.Duration
	uploadTimeout time.Duration
	concurrency   int
}

func NewTranscoder(opts Options) *Transcoder {
	t := &Transcoder{
		guard:         opts.Guard,
		store:         opts.Store,
		client:        opts.Client,
		fetchTimeout:  opts.FetchTimeout,
		uploadTimeout: opts.UploadTimeout,
		concurrency:   opts.Concurrency,
	}
	if t.guard == nil {
		host := ""
		if t.store != nil {
			host = t.store.Host()
		}
		t.guard = NewGuard(host, nil)
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	// Fetches use a copy of the client so every redirect hop passes the guard.
	fetch := *t.client
	fetch.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return t.guard.Check(req.URL.String())
	}
	t.client = &fetch
	if t.fetchTimeout <= 0 {
		t.fetchTimeout = 30 * time.Second
	}
	if t.uploadTimeout <= 0 {
		t.uploadTimeout = 60 * time.Second
	}
	if t.concurrency <= 0 {
		t.concurrency = 4
	}
	return t
}

// RemoteToInline downloads rawURL and returns it as inline bytes. WEBP
// images are re-encoded as PNG when possible.
func (t *Transcoder) RemoteToInline(ctx context.Context, rawURL string) (Ref, error) {
	if err := t.guard.Check(rawURL); err != nil {
		return Ref{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid image URL: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Ref{}, fmt.Errorf("image fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Ref{}, fmt.Errorf("image fetch error (%d): %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Ref{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return Ref{}, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mimeType := DetectMIME(data, resp.Header.Get("Content-Type"), rawURL)
	if mimeType == "image/webp" {
		converted, err := webpToPNG(data)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("url", rawURL).Msg("WEBP to PNG conversion failed, keeping WEBP")
			return Inline(data, mimeType), nil
		}
		return Inline(converted, "image/png"), nil
	}
	return Inline(data, mimeType), nil
}

// InlineToRemote uploads data to the image store and returns its URL.
func (t *Transcoder) InlineToRemote(ctx context.Context, data []byte, mimeType string) (string, error) {
	if t.store == nil {
		return "", errors.New("no image store configured")
	}
	ctx, cancel := context.WithTimeout(ctx, t.uploadTimeout)
	defer cancel()
	return t.store.Upload(ctx, data, mimeType)
}

func webpToPNG(data []byte) ([]byte, error) {
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode webp: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Conversion is the outcome of converting one image. When Fallback is set,
// Ref is the caller's original value and Err says why conversion failed.
type Conversion struct {
	Ref      Ref
	Fallback bool
	Err      error
}

// ToInline converts every ref to inline bytes. Order is preserved and a
// failure on one image never affects the others.
func (t *Transcoder) ToInline(ctx context.Context, refs []Ref) []Conversion {
	return t.convertAll(ctx, "to_inline", refs, func(ctx context.Context, r Ref) (Ref, error) {
		if r.IsInline() {
			return r, nil
		}
		return t.RemoteToInline(ctx, r.URL())
	})
}

// ToRemote converts every ref to a remote URL, uploading inline images.
func (t *Transcoder) ToRemote(ctx context.Context, refs []Ref) []Conversion {
	return t.convertAll(ctx, "to_remote", refs, func(ctx context.Context, r Ref) (Ref, error) {
		if !r.IsInline() {
			return r, nil
		}
		u, err := t.InlineToRemote(ctx, r.Data(), r.MIMEType())
		if err != nil {
			return Ref{}, err
		}
		return RemoteURL(u), nil
	})
}

func (t *Transcoder) convertAll(ctx context.Context, direction string, refs []Ref, convert func(context.Context, Ref) (Ref, error)) []Conversion {
	logger := zerolog.Ctx(ctx)
	out := make([]Conversion, len(refs))

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i, r := range refs {
		g.Go(func() error {
			converted, err := convert(ctx, r)
			if err != nil {
				metrics.ImageConversionsTotal.WithLabelValues(direction, "fallback").Inc()
				logger.Warn().Err(err).Int("index", i).Str("image", r.String()).Str("direction", direction).Msg("Image conversion failed")
				out[i] = Conversion{Ref: r, Fallback: true, Err: err}
				return nil
			}
			metrics.ImageConversionsTotal.WithLabelValues(direction, "ok").Inc()
			out[i] = Conversion{Ref: converted}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Converted returns the successfully converted refs, in order.
func Converted(convs []Conversion) []Ref {
	refs := make([]Ref, 0, len(convs))
	for _, c := range convs {
		if !c.Fallback {
			refs = append(refs, c.Ref)
		}
	}
	return refs
}

// Passthrough returns every ref, substituting the original for failures.
func Passthrough(convs []Conversion) []Ref {
	refs := make([]Ref, len(convs))
	for i, c := range convs {
		refs[i] = c.Ref
	}
	return refs
}

// SoleBlocked returns the guard error when the batch held exactly one image
// and the guard refused it.
func SoleBlocked(convs []Conversion) error {
	if len(convs) == 1 && convs[0].Fallback && errors.Is(convs[0].Err, ErrBlocked) {
		return convs[0].Err
	}
	return nil
}
