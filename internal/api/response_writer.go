package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultModelName = "unknown-model"

func respondWithJSON(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to encode response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBody)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, message, providerName string) {
	errType := "server_error"
	switch status {
	case http.StatusUnauthorized:
		errType = "authentication_error"
	case http.StatusBadRequest:
		errType = "invalid_request_error"
	case http.StatusNotFound:
		errType = "not_found_error"
	case http.StatusMethodNotAllowed:
		errType = "method_not_allowed"
	}
	respondWithJSON(ctx, w, status, ErrorResponse{Error: ErrorBody{Message: message, Type: errType, Provider: providerName}})
}

// renderMarkdown embeds each image as a Markdown image reference, in order.
func renderMarkdown(images []imaging.Ref) string {
	parts := make([]string, len(images))
	for i, img := range images {
		parts[i] = "![Generated Image](" + img.DataURI() + ")"
	}
	return strings.Join(parts, "\n\n")
}

func modelName(requested string) string {
	if requested == "" {
		return defaultModelName
	}
	return requested
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func buildCompletion(model, content string) ChatCompletion {
	return ChatCompletion{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName(model),
		Choices: []ChatChoice{{
			Index:        0,
			Message:      AssistantMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
}

// writeStream emits the whole body in one content frame, then an empty
// terminal frame and the [DONE] sentinel.
func writeStream(ctx context.Context, w http.ResponseWriter, model, content string) {
	id := newCompletionID()
	created := time.Now().Unix()
	stop := "stop"

	frames := []ChatCompletionChunk{
		{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName(model),
			Choices: []ChunkChoice{{Index: 0, Delta: ChunkDelta{Role: "assistant", Content: content}}},
		},
		{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName(model),
			Choices: []ChunkChoice{{Index: 0, Delta: ChunkDelta{}, FinishReason: &stop}},
		},
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to encode stream frame")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
