package provider

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/poll"
	"github.com/rs/zerolog"
)

// GiteeAdapter talks to the Gitee AI OpenAI-compatible image API. Edits
// upload inline bytes as multipart files; some edit models only run as
// asynchronous tasks.
type GiteeAdapter struct {
	cfg        config.GiteeConfig
	http       vendorHTTP
	transcoder *imaging.Transcoder
	poller     poll.Poller
}

func NewGiteeAdapter(cfg config.GiteeConfig, client *http.Client, timeout time.Duration, transcoder *imaging.Transcoder) *GiteeAdapter {
	return &GiteeAdapter{
		cfg:        cfg,
		http:       newVendorHTTP(Gitee, client, timeout),
		transcoder: transcoder,
		poller:     poll.New(cfg.Poll.Interval, cfg.Poll.MaxAttempts),
	}
}

func (a *GiteeAdapter) Identity() Identity { return Gitee }

func (a *GiteeAdapter) Generate(ctx context.Context, credential string, req Request) (*Result, error) {
	if !req.IsEdit() {
		return a.generate(ctx, credential, req)
	}

	convs := a.transcoder.ToInline(ctx, req.Images)
	if err := imaging.SoleBlocked(convs); err != nil {
		return nil, &VendorError{Provider: Gitee, Detail: "input image rejected", Err: err}
	}
	images := imaging.Converted(convs)
	if len(images) == 0 {
		zerolog.Ctx(ctx).Warn().Int("images", len(req.Images)).Msg("No input image could be converted, falling back to text generation")
		req.Images = nil
		return a.generate(ctx, credential, req)
	}

	switch {
	case slices.Contains(a.cfg.Catalog.EditModels, req.Model):
		return a.edit(ctx, credential, req, req.Model, images)
	case slices.Contains(a.cfg.AsyncEditModels, req.Model):
		return a.asyncEdit(ctx, credential, req, images)
	default:
		return a.edit(ctx, credential, req, a.cfg.Catalog.EditModels[0], images)
	}
}

func (a *GiteeAdapter) generate(ctx context.Context, credential string, req Request) (*Result, error) {
	modelName := resolveModel(a.cfg.Catalog, req.Model, false)
	size := resolveSize(a.cfg.Catalog, req.Size, false)
	zerolog.Ctx(ctx).Info().Str("model", modelName).Str("size", size).Msg("Calling Gitee generation")

	payload := map[string]any{
		"model":           modelName,
		"prompt":          req.prompt(),
		"size":            size,
		"n":               1,
		"response_format": "url",
	}
	body, err := a.http.postJSON(ctx, "generate", a.cfg.BaseURL+"/images/generations", credential, payload, nil)
	if err != nil {
		return nil, err
	}
	return a.parseImages("generate", body)
}

func (a *GiteeAdapter) edit(ctx context.Context, credential string, req Request, modelName string, images []imaging.Ref) (*Result, error) {
	size := resolveSize(a.cfg.Catalog, req.Size, true)
	zerolog.Ctx(ctx).Info().Str("model", modelName).Str("size", size).Int("images", len(images)).Msg("Calling Gitee edit")

	body, contentType, err := editForm(modelName, req.prompt(), size, images)
	if err != nil {
		return nil, err
	}
	data, err := a.http.send(ctx, "edit", http.MethodPost, a.cfg.BaseURL+"/images/edits", credential, body, contentType, nil)
	if err != nil {
		return nil, err
	}
	return a.parseImages("edit", data)
}

type giteeTask struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output struct {
		FileURL string `json:"file_url"`
	} `json:"output"`
	Error   any    `json:"error"`
	Message string `json:"message"`
}

func (a *GiteeAdapter) asyncEdit(ctx context.Context, credential string, req Request, images []imaging.Ref) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	size := req.Size
	if size == "" {
		size = a.cfg.DefaultAsyncEditSize
	}
	logger.Info().Str("model", req.Model).Str("size", size).Int("images", len(images)).Msg("Submitting Gitee async edit")

	body, contentType, err := editForm(req.Model, req.prompt(), size, images)
	if err != nil {
		return nil, err
	}
	data, err := a.http.send(ctx, "submit", http.MethodPost, a.cfg.BaseURL+"/async/images/edits", credential, body, contentType, nil)
	if err != nil {
		return nil, err
	}
	var submitted giteeTask
	if err := a.http.decode("submit", data, &submitted); err != nil {
		return nil, err
	}
	if submitted.TaskID == "" {
		return nil, &VendorError{Provider: Gitee, Detail: "no task id returned: " + truncate(string(data))}
	}
	logger.Info().Str("task_id", submitted.TaskID).Msg("Gitee task submitted")

	task, err := poll.Run(ctx, a.poller, submitted.TaskID, func(ctx context.Context, taskID string) (poll.Observation[string], error) {
		data, err := a.http.get(ctx, "poll", a.cfg.BaseURL+"/task/"+taskID, credential, nil)
		if err != nil {
			return poll.Observation[string]{}, err
		}
		var t giteeTask
		if err := a.http.decode("poll", data, &t); err != nil {
			return poll.Observation[string]{}, err
		}
		switch strings.ToLower(t.Status) {
		case "success":
			return poll.Observation[string]{State: poll.Done, Result: t.Output.FileURL, VendorStatus: t.Status}, nil
		case "failure", "failed", "cancelled":
			return poll.Observation[string]{State: poll.Failed, Detail: truncate(string(data)), VendorStatus: t.Status}, nil
		default:
			return poll.Observation[string]{State: poll.Pending, VendorStatus: t.Status}, nil
		}
	})
	if err != nil {
		return nil, pollError(Gitee, err)
	}
	if task.Result == "" {
		return nil, a.http.noImages()
	}
	return &Result{Images: []imaging.Ref{imaging.RemoteURL(task.Result)}}, nil
}

func (a *GiteeAdapter) parseImages(op string, data []byte) (*Result, error) {
	var resp openAIImages
	if err := a.http.decode(op, data, &resp); err != nil {
		return nil, err
	}
	images := resp.images()
	if len(images) == 0 {
		return nil, a.http.noImages()
	}
	return &Result{Images: images}, nil
}

// editForm encodes an edit request with one "image" part per input image.
func editForm(modelName, prompt, size string, images []imaging.Ref) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"model", modelName},
		{"prompt", prompt},
		{"size", size},
		{"n", "1"},
		{"response_format", "url"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}
	for i, img := range images {
		name := fmt.Sprintf("image_%d.%s", i, imaging.ExtensionFor(img.MIMEType()))
		if err := imaging.WriteImagePart(w, "image", name, img.Data(), img.MIMEType()); err != nil {
			return nil, "", fmt.Errorf("failed to write image part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
