package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/poll"
	"github.com/rs/zerolog"
)

// ModelScopeAdapter submits asynchronous jobs to the ModelScope inference
// API and polls them to completion. Edit inputs must be public URLs.
type ModelScopeAdapter struct {
	cfg        config.ModelScopeConfig
	http       vendorHTTP
	transcoder *imaging.Transcoder
	poller     poll.Poller
}

func NewModelScopeAdapter(cfg config.ModelScopeConfig, client *http.Client, timeout time.Duration, transcoder *imaging.Transcoder) *ModelScopeAdapter {
	return &ModelScopeAdapter{
		cfg:        cfg,
		http:       newVendorHTTP(ModelScope, client, timeout),
		transcoder: transcoder,
		poller:     poll.New(cfg.Poll.Interval, cfg.Poll.MaxAttempts),
	}
}

func (a *ModelScopeAdapter) Identity() Identity { return ModelScope }

type modelScopeTask struct {
	TaskID       string   `json:"task_id"`
	TaskStatus   string   `json:"task_status"`
	OutputImages []string `json:"output_images"`
}

func (a *ModelScopeAdapter) Generate(ctx context.Context, credential string, req Request) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	edit := req.IsEdit()
	modelName := resolveModel(a.cfg.Catalog, req.Model, edit)
	size := resolveSize(a.cfg.Catalog, req.Size, edit)

	payload := map[string]any{
		"model":  modelName,
		"prompt": req.prompt(),
		"size":   size,
		"n":      1,
	}
	if edit {
		convs := a.transcoder.ToRemote(ctx, req.Images)
		if err := imaging.SoleBlocked(convs); err != nil {
			return nil, &VendorError{Provider: ModelScope, Detail: "input image rejected", Err: err}
		}
		refs := imaging.Passthrough(convs)
		urls := make([]string, len(refs))
		for i, ref := range refs {
			urls[i] = ref.DataURI()
		}
		payload["image_url"] = urls
	}

	logger.Info().Str("model", modelName).Str("size", size).Bool("edit", edit).Msg("Submitting ModelScope task")
	data, err := a.http.postJSON(ctx, "submit", a.cfg.BaseURL+"/images/generations", credential, payload,
		map[string]string{"X-ModelScope-Async-Mode": "true"})
	if err != nil {
		return nil, err
	}
	var submitted modelScopeTask
	if err := a.http.decode("submit", data, &submitted); err != nil {
		return nil, err
	}
	if submitted.TaskID == "" {
		return nil, &VendorError{Provider: ModelScope, Detail: "no task id returned: " + truncate(string(data))}
	}
	logger.Info().Str("task_id", submitted.TaskID).Msg("ModelScope task submitted")

	task, err := poll.Run(ctx, a.poller, submitted.TaskID, a.check(credential))
	if err != nil {
		return nil, pollError(ModelScope, err)
	}
	if len(task.Result) == 0 {
		return nil, a.http.noImages()
	}
	images := make([]imaging.Ref, len(task.Result))
	for i, u := range task.Result {
		images[i] = imaging.RemoteURL(u)
	}
	return &Result{Images: images}, nil
}

func (a *ModelScopeAdapter) check(credential string) poll.CheckFunc[[]string] {
	return func(ctx context.Context, taskID string) (poll.Observation[[]string], error) {
		data, err := a.http.get(ctx, "poll", a.cfg.BaseURL+"/tasks/"+taskID, credential,
			map[string]string{"X-ModelScope-Task-Type": "image_generation"})
		if err != nil {
			return poll.Observation[[]string]{}, err
		}
		var t modelScopeTask
		if err := a.http.decode("poll", data, &t); err != nil {
			return poll.Observation[[]string]{}, err
		}
		switch t.TaskStatus {
		case "SUCCEED":
			return poll.Observation[[]string]{State: poll.Done, Result: t.OutputImages, VendorStatus: t.TaskStatus}, nil
		case "FAILED":
			return poll.Observation[[]string]{State: poll.Failed, Detail: truncate(string(data)), VendorStatus: t.TaskStatus}, nil
		default:
			return poll.Observation[[]string]{State: poll.Pending, VendorStatus: t.TaskStatus}, nil
		}
	}
}
