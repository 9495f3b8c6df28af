package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArkFake(t *testing.T) (*map[string]any, *httptest.Server) {
	t.Helper()
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/images/generations") {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"doubao-seedream-4-5-251128","created":1700000000,"data":[{"url":"https://ark.volces.com/out/1.png","size":"2048x2048"},{"url":"https://ark.volces.com/out/2.png","size":"2048x2048"}],"usage":{"generated_images":2,"output_tokens":1,"total_tokens":1}}`))
	}))
	t.Cleanup(srv.Close)
	return &received, srv
}

func newTestVolcEngine(srv *httptest.Server) *VolcEngineAdapter {
	cfg := config.Defaults().VolcEngine
	cfg.BaseURL = srv.URL
	return NewVolcEngineAdapter(cfg, srv.Client(), 5*time.Second)
}

func TestVolcEngineGenerate(t *testing.T) {
	received, srv := newArkFake(t)
	a := newTestVolcEngine(srv)

	res, err := a.Generate(context.Background(), "a1b2c3d4-e5f6-7890-abcd-1234567890ab", Request{Prompt: "sunset", Model: "not-listed"})
	require.NoError(t, err)

	require.Len(t, res.Images, 2)
	assert.Equal(t, "https://ark.volces.com/out/1.png", res.Images[0].URL())
	assert.Equal(t, "https://ark.volces.com/out/2.png", res.Images[1].URL())

	body := *received
	assert.Equal(t, "doubao-seedream-4-5-251128", body["model"])
	assert.Equal(t, "sunset", body["prompt"])
	assert.Equal(t, "2K", body["size"])
	assert.Equal(t, "url", body["response_format"])
	assert.Equal(t, false, body["watermark"])
	assert.NotContains(t, body, "image")
}

func TestVolcEngineEditPassesReferencesThrough(t *testing.T) {
	received, srv := newArkFake(t)
	a := newTestVolcEngine(srv)

	_, err := a.Generate(context.Background(), "a1b2c3d4-e5f6-7890-abcd-1234567890ab", Request{
		Prompt: "blend",
		Model:  "doubao-seedream-4-0-250828",
		Images: []imaging.Ref{
			imaging.RemoteURL("https://cdn.example.org/a.png"),
			imaging.Inline([]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"),
		},
	})
	require.NoError(t, err)

	body := *received
	assert.Equal(t, "doubao-seedream-4-0-250828", body["model"])
	assert.Equal(t, []any{"https://cdn.example.org/a.png", "data:image/jpeg;base64,/9j/"}, body["image"])
}

func TestVolcEngineVendorErrorIsSingleCallWithRawBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded: quota bucket 42"))
	}))
	defer srv.Close()
	a := newTestVolcEngine(srv)

	_, err := a.Generate(context.Background(), "a1b2c3d4-e5f6-7890-abcd-1234567890ab", Request{Prompt: "sunset"})
	require.Error(t, err)

	var vErr *VendorError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, VolcEngine, vErr.Provider)
	assert.Equal(t, http.StatusInternalServerError, vErr.StatusCode)
	assert.Equal(t, "upstream exploded: quota bucket 42", vErr.Detail)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVolcEngineRateLimitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"RateLimitExceeded","message":"slow down","type":"TooManyRequests"}}`))
	}))
	defer srv.Close()
	a := newTestVolcEngine(srv)

	_, err := a.Generate(context.Background(), "a1b2c3d4-e5f6-7890-abcd-1234567890ab", Request{Prompt: "sunset"})
	var vErr *VendorError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, http.StatusTooManyRequests, vErr.StatusCode)
	assert.Contains(t, vErr.Detail, "slow down")
	assert.Equal(t, int32(1), calls.Load())
}
