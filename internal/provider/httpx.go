package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/metrics"
	"github.com/cheahjs/img-router/internal/poll"
)

const (
	userAgent        = "ImgRouter/1.0"
	maxResponseBytes = 64 << 20
	maxDetailBytes   = 1 << 20
)

// vendorHTTP is the request plumbing shared by the REST adapters. Each call
// gets its own timeout.
type vendorHTTP struct {
	id      Identity
	client  *http.Client
	timeout time.Duration
}

func newVendorHTTP(id Identity, client *http.Client, timeout time.Duration) vendorHTTP {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return vendorHTTP{id: id, client: client, timeout: timeout}
}

func (v vendorHTTP) postJSON(ctx context.Context, op, url, credential string, payload any, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	return v.send(ctx, op, http.MethodPost, url, credential, bytes.NewReader(body), "application/json", headers)
}

func (v vendorHTTP) get(ctx context.Context, op, url, credential string, headers map[string]string) ([]byte, error) {
	return v.send(ctx, op, http.MethodGet, url, credential, nil, "", headers)
}

func (v vendorHTTP) send(ctx context.Context, op, method, url, credential string, body io.Reader, contentType string, headers map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		metrics.VendorCallsTotal.WithLabelValues(v.id.String(), op, "error").Inc()
		return nil, &VendorError{Provider: v.id, Detail: op + " request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.VendorCallsTotal.WithLabelValues(v.id.String(), op, "error").Inc()
		return nil, &VendorError{Provider: v.id, Detail: "failed to read " + op + " response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VendorCallsTotal.WithLabelValues(v.id.String(), op, "error").Inc()
		return nil, &VendorError{Provider: v.id, StatusCode: resp.StatusCode, Detail: truncate(string(data))}
	}
	metrics.VendorCallsTotal.WithLabelValues(v.id.String(), op, "ok").Inc()
	return data, nil
}

// decode unmarshals a vendor payload, reporting malformed JSON as a
// VendorError.
func (v vendorHTTP) decode(op string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &VendorError{Provider: v.id, Detail: "malformed " + op + " response", Err: err}
	}
	return nil
}

func (v vendorHTTP) noImages() error {
	return &VendorError{Provider: v.id, Detail: "no images returned"}
}

func truncate(s string) string {
	if len(s) > maxDetailBytes {
		return s[:maxDetailBytes]
	}
	return s
}

// openAIImages is the OpenAI-compatible images response used by Gitee.
type openAIImages struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (o openAIImages) images() []imaging.Ref {
	out := make([]imaging.Ref, 0, len(o.Data))
	for _, d := range o.Data {
		if ref, ok := imageFrom(d.URL, d.B64JSON); ok {
			out = append(out, ref)
		}
	}
	return out
}

// imageFrom prefers a URL and falls back to base64 content.
func imageFrom(url, b64 string) (imaging.Ref, bool) {
	if url != "" {
		return imaging.RemoteURL(url), true
	}
	if b64 == "" {
		return imaging.Ref{}, false
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return imaging.Ref{}, false
	}
	return imaging.Inline(data, imaging.DetectMIME(data, "", "")), true
}

// pollError folds a poll outcome (failure, timeout, cancellation) into a
// VendorError so callers see one error kind per provider.
func pollError(id Identity, err error) error {
	if errors.Is(err, poll.ErrTimedOut) {
		return &VendorError{Provider: id, Detail: "task timed out", Err: err}
	}
	return &VendorError{Provider: id, Detail: "task did not complete", Err: err}
}
