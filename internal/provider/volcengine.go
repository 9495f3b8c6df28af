package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

// VolcEngineAdapter serves Seedream models through the Ark runtime. The
// same endpoint handles generation and edits; edit references are sent as
// URLs or data URIs without conversion.
type VolcEngineAdapter struct {
	cfg       config.VolcEngineConfig
	transport http.RoundTripper
	timeout   time.Duration
}

func NewVolcEngineAdapter(cfg config.VolcEngineConfig, client *http.Client, timeout time.Duration) *VolcEngineAdapter {
	var transport http.RoundTripper = http.DefaultTransport
	if client != nil && client.Transport != nil {
		transport = client.Transport
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &VolcEngineAdapter{cfg: cfg, transport: transport, timeout: timeout}
}

func (a *VolcEngineAdapter) Identity() Identity { return VolcEngine }

func (a *VolcEngineAdapter) Generate(ctx context.Context, credential string, req Request) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	edit := req.IsEdit()
	modelName := resolveModel(a.cfg.Catalog, req.Model, edit)
	size := resolveSize(a.cfg.Catalog, req.Size, edit)

	genReq := model.GenerateImagesRequest{
		Model:          modelName,
		Prompt:         req.prompt(),
		ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL),
		Size:           volcengine.String(size),
		Seed:           volcengine.Int64(-1),
		Watermark:      volcengine.Bool(false),
	}
	switch len(req.Images) {
	case 0:
	case 1:
		genReq.Image = req.Images[0].DataURI()
	default:
		images := make([]string, len(req.Images))
		for i, ref := range req.Images {
			images[i] = ref.DataURI()
		}
		genReq.Image = images
	}

	logger.Info().Str("model", modelName).Str("size", size).Bool("edit", edit).Int("images", len(req.Images)).Msg("Calling VolcEngine")

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// One attempt only. The SDK would otherwise retry 5xx and 429.
	recorder := &errorBodyRecorder{base: a.transport}
	client := arkruntime.NewClientWithApiKey(
		credential,
		arkruntime.WithBaseUrl(a.cfg.BaseURL),
		arkruntime.WithTimeout(a.timeout),
		arkruntime.WithRetryTimes(0),
		arkruntime.WithHTTPClient(&http.Client{Transport: recorder, Timeout: a.timeout}),
	)
	resp, err := client.GenerateImages(ctx, genReq)
	if err != nil {
		metrics.VendorCallsTotal.WithLabelValues(VolcEngine.String(), "generate", "error").Inc()
		return nil, arkError(err, recorder)
	}
	if resp.Error != nil {
		metrics.VendorCallsTotal.WithLabelValues(VolcEngine.String(), "generate", "error").Inc()
		return nil, &VendorError{Provider: VolcEngine, Detail: resp.Error.Code + ": " + resp.Error.Message}
	}
	metrics.VendorCallsTotal.WithLabelValues(VolcEngine.String(), "generate", "ok").Inc()

	images := make([]imaging.Ref, 0, len(resp.Data))
	for _, item := range resp.Data {
		if item == nil {
			continue
		}
		var url, b64 string
		if item.Url != nil {
			url = *item.Url
		}
		if item.B64Json != nil {
			b64 = *item.B64Json
		}
		if ref, ok := imageFrom(url, b64); ok {
			images = append(images, ref)
		}
	}
	if len(images) == 0 {
		return nil, &VendorError{Provider: VolcEngine, Detail: "no images returned"}
	}
	return &Result{Images: images}, nil
}

// arkError converts an SDK failure into a VendorError. A non-2xx body seen
// on the wire is the detail, whatever the SDK made of it.
func arkError(err error, recorder *errorBodyRecorder) error {
	vErr := &VendorError{Provider: VolcEngine, Detail: "image generation failed", Err: err}
	var apiErr *model.APIError
	var reqErr *model.RequestError
	switch {
	case errors.As(err, &apiErr):
		vErr.StatusCode = apiErr.HTTPStatusCode
		vErr.Detail = apiErr.Message
	case errors.As(err, &reqErr):
		vErr.StatusCode = reqErr.HTTPStatusCode
	}
	if status, body, ok := recorder.last(); ok {
		vErr.StatusCode = status
		vErr.Detail = truncate(string(body))
	}
	return vErr
}

// errorBodyRecorder keeps a copy of the last non-2xx response body and
// hands the SDK an unread replacement.
type errorBodyRecorder struct {
	base http.RoundTripper

	mu     sync.Mutex
	status int
	body   []byte
}

func (r *errorBodyRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req)
	if err != nil || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return resp, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.status, r.body = resp.StatusCode, body
	r.mu.Unlock()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (r *errorBodyRecorder) last() (int, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.body, r.status != 0
}
