package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const volcKey = "a1b2c3d4-e5f6-7890-abcd-1234567890ab"

type fakeAdapter struct {
	id      provider.Identity
	images  []imaging.Ref
	err     error
	panics  bool
	lastReq provider.Request
	calls   int
}

func (f *fakeAdapter) Identity() provider.Identity { return f.id }

func (f *fakeAdapter) Generate(_ context.Context, _ string, req provider.Request) (*provider.Result, error) {
	f.calls++
	f.lastReq = req
	if f.panics {
		panic("adapter exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Result{Images: f.images}, nil
}

func newTestRouter(adapters ...provider.Adapter) *Router {
	cfg := config.Defaults()
	return NewRouter(provider.NewRegistry(adapters...), &cfg, zerolog.Nop())
}

func doRequest(t *testing.T, h http.Handler, method, path, credential, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestChatCompletionJSON(t *testing.T) {
	fake := &fakeAdapter{id: provider.VolcEngine, images: []imaging.Ref{
		imaging.RemoteURL("https://ark.volces.com/1.png"),
		imaging.Inline([]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"),
	}}
	router := newTestRouter(fake)

	rec := doRequest(t, router, http.MethodPost, "/v1/chat/completions", volcKey,
		`{"model":"doubao-seedream-4-5-251128","size":"1024x1024","messages":[{"role":"user","content":"a red fox"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp ChatCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "doubao-seedream-4-5-251128", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "![Generated Image](https://ark.volces.com/1.png)\n\n![Generated Image](data:image/jpeg;base64,/9j/)", resp.Choices[0].Message.Content)
	assert.Equal(t, Usage{}, resp.Usage)

	assert.Equal(t, "a red fox", fake.lastReq.Prompt)
	assert.Equal(t, "1024x1024", fake.lastReq.Size)
	assert.False(t, fake.lastReq.IsEdit())
}

func TestChatCompletionStreamHasTwoFrames(t *testing.T) {
	big := imaging.Inline(make([]byte, 256<<10), "image/png")
	router := newTestRouter(&fakeAdapter{id: provider.VolcEngine, images: []imaging.Ref{big, big}})

	rec := doRequest(t, router, http.MethodPost, "/v1/chat/completions", volcKey,
		`{"stream":true,"messages":[{"role":"user","content":"x"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var frames []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, frames, 3)
	assert.Equal(t, "[DONE]", frames[2])

	var first, second ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &second))
	assert.Equal(t, "unknown-model", first.Model)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Equal(t, 2, strings.Count(first.Choices[0].Delta.Content, "![Generated Image]("))
	assert.Nil(t, first.Choices[0].FinishReason)
	assert.Empty(t, second.Choices[0].Delta.Content)
	require.NotNil(t, second.Choices[0].FinishReason)
	assert.Equal(t, "stop", *second.Choices[0].FinishReason)
}

func TestChatCompletionRejectsBadCredentials(t *testing.T) {
	fake := &fakeAdapter{id: provider.VolcEngine}
	router := newTestRouter(fake)

	for _, credential := range []string{"", "abcde"} {
		rec := doRequest(t, router, http.MethodPost, "/v1/chat/completions", credential, `{"messages":[]}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "credential %q", credential)
		assert.Equal(t, "authentication_error", decodeError(t, rec).Type)
	}
	assert.Zero(t, fake.calls)
}

func TestChatCompletionRoutesByCredential(t *testing.T) {
	volc := &fakeAdapter{id: provider.VolcEngine, images: []imaging.Ref{imaging.RemoteURL("https://v/1.png")}}
	ms := &fakeAdapter{id: provider.ModelScope, images: []imaging.Ref{imaging.RemoteURL("https://m/1.png")}}
	hf := &fakeAdapter{id: provider.HuggingFace, images: []imaging.Ref{imaging.RemoteURL("https://h/1.png")}}
	gitee := &fakeAdapter{id: provider.Gitee, images: []imaging.Ref{imaging.RemoteURL("https://g/1.png")}}
	router := newTestRouter(volc, ms, hf, gitee)

	body := `{"messages":[{"role":"user","content":"x"}]}`
	for _, credential := range []string{volcKey, "ms-xxxxxxxx", "hf_xxxxxxxx", strings.Repeat("k", 40)} {
		rec := doRequest(t, router, http.MethodPost, "/v1/chat/completions", credential, body)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, volc.calls)
	assert.Equal(t, 1, ms.calls)
	assert.Equal(t, 1, hf.calls)
	assert.Equal(t, 1, gitee.calls)
}

func TestChatCompletionVendorErrorEnvelope(t *testing.T) {
	fake := &fakeAdapter{id: provider.ModelScope, err: &provider.VendorError{Provider: provider.ModelScope, StatusCode: 502, Detail: "upstream down"}}
	router := newTestRouter(fake)

	rec := doRequest(t, router, http.MethodPost, "/v1/chat/completions", "ms-key", `{"messages":[{"role":"user","content":"x"}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "server_error", body.Type)
	assert.Equal(t, "ModelScope", body.Provider)
	assert.Contains(t, body.Message, "upstream down")
}

func TestChatCompletionInvalidJSON(t *testing.T) {
	router := newTestRouter(&fakeAdapter{id: provider.VolcEngine})
	rec := doRequest(t, router, http.MethodPost, "/v1/chat/completions", volcKey, `{"messages":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPanicIsRecovered(t *testing.T) {
	router := newTestRouter(&fakeAdapter{id: provider.VolcEngine, panics: true})

	rec := doRequest(t, router, http.MethodPost, "/v1/chat/completions", volcKey, `{"messages":[]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "adapter exploded")

	rec = doRequest(t, router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutingErrors(t *testing.T) {
	router := newTestRouter(&fakeAdapter{id: provider.VolcEngine})

	rec := doRequest(t, router, http.MethodPost, "/v1/images/generations", volcKey, `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found_error", decodeError(t, rec).Type)

	rec = doRequest(t, router, http.MethodGet, "/v1/chat/completions", volcKey, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPreflight(t *testing.T) {
	router := newTestRouter()
	rec := doRequest(t, router, http.MethodOptions, "/v1/chat/completions", "", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestHealthAndModels(t *testing.T) {
	router := newTestRouter(&fakeAdapter{id: provider.Gitee}, &fakeAdapter{id: provider.VolcEngine})

	rec := doRequest(t, router, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"VolcEngine", "Gitee"}, health.Providers)

	rec = doRequest(t, router, http.MethodGet, "/v1/models", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var models ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Equal(t, "list", models.Object)
	ids := map[string]string{}
	for _, m := range models.Data {
		ids[m.ID] = m.OwnedBy
	}
	assert.Equal(t, "VolcEngine", ids["doubao-seedream-4-5-251128"])
	assert.Equal(t, "ModelScope", ids["Tongyi-MAI/Z-Image-Turbo"])
	assert.Equal(t, "Gitee", ids["FLUX.2-dev"])
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter()
	doRequest(t, router, http.MethodPost, "/v1/chat/completions", "", `{}`)

	rec := doRequest(t, router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imgrouter_requests_total")
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusForError(provider.ErrUnknownProvider))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.New("boom")))
}
