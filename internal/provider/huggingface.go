package provider

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/poll"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// HuggingFaceAdapter drives public Gradio Spaces. Each request walks an
// endpoint pool in order; a Space call is a submit followed by reading the
// event stream of the queued job.
type HuggingFaceAdapter struct {
	cfg        config.HuggingFaceConfig
	http       vendorHTTP
	transcoder *imaging.Transcoder
	poller     poll.Poller
}

func NewHuggingFaceAdapter(cfg config.HuggingFaceConfig, client *http.Client, timeout time.Duration, transcoder *imaging.Transcoder) *HuggingFaceAdapter {
	return &HuggingFaceAdapter{
		cfg:        cfg,
		http:       newVendorHTTP(HuggingFace, client, timeout),
		transcoder: transcoder,
		poller:     poll.New(cfg.Poll.Interval, cfg.Poll.MaxAttempts),
	}
}

func (a *HuggingFaceAdapter) Identity() Identity { return HuggingFace }

func (a *HuggingFaceAdapter) Generate(ctx context.Context, credential string, req Request) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	if !req.IsEdit() {
		return a.generate(ctx, credential, req)
	}

	convs := a.transcoder.ToRemote(ctx, req.Images)
	if err := imaging.SoleBlocked(convs); err != nil {
		return nil, &VendorError{Provider: HuggingFace, Detail: "input image rejected", Err: err}
	}
	images := imaging.Converted(convs)
	if len(images) == 0 {
		logger.Warn().Int("images", len(req.Images)).Msg("No input image could be uploaded, falling back to text generation")
		req.Images = nil
		return a.generate(ctx, credential, req)
	}

	modelName := resolveModel(a.cfg.Catalog, req.Model, true)
	width, height := parseSize(resolveSize(a.cfg.Catalog, req.Size, true))
	gallery := make([]map[string]any, len(images))
	for i, img := range images {
		gallery[i] = map[string]any{"image": gradioFile(img.URL()), "caption": nil}
	}
	args := []any{gallery, req.prompt(), 0, true, 1.0, 4, height, width}

	logger.Info().Str("model", modelName).Int("width", width).Int("height", height).Int("images", len(images)).Msg("Calling HuggingFace edit pool")
	return a.runPool(ctx, credential, Pool{Name: "huggingface_edit", Endpoints: a.cfg.EditPool}, a.cfg.EditFn, args)
}

func (a *HuggingFaceAdapter) generate(ctx context.Context, credential string, req Request) (*Result, error) {
	modelName := resolveModel(a.cfg.Catalog, req.Model, false)
	width, height := parseSize(resolveSize(a.cfg.Catalog, req.Size, false))
	args := []any{req.prompt(), height, width, 8, 0, true}

	zerolog.Ctx(ctx).Info().Str("model", modelName).Int("width", width).Int("height", height).Msg("Calling HuggingFace generation pool")
	return a.runPool(ctx, credential, Pool{Name: "huggingface_generate", Endpoints: a.cfg.GenerationPool}, a.cfg.GenerationFn, args)
}

func (a *HuggingFaceAdapter) runPool(ctx context.Context, credential string, pool Pool, fn string, args []any) (*Result, error) {
	urls, err := RunPool(ctx, pool, func(ctx context.Context, space string) ([]string, error) {
		return a.call(ctx, credential, strings.TrimRight(space, "/"), fn, args)
	})
	if err != nil {
		return nil, err
	}
	images := make([]imaging.Ref, len(urls))
	for i, u := range urls {
		images[i] = imaging.RemoteURL(u)
	}
	return &Result{Images: images}, nil
}

// call runs one Gradio function on one Space and returns the image URLs of
// its output.
func (a *HuggingFaceAdapter) call(ctx context.Context, credential, space, fn string, args []any) ([]string, error) {
	endpoint := space + "/gradio_api/call/" + fn
	data, err := a.http.postJSON(ctx, "submit", endpoint, credential, map[string]any{"data": args}, nil)
	if err != nil {
		return nil, err
	}
	eventID := gjson.GetBytes(data, "event_id").String()
	if eventID == "" {
		return nil, &VendorError{Provider: HuggingFace, Detail: "no event id returned: " + truncate(string(data))}
	}

	task, err := poll.Run(ctx, a.poller, eventID, func(ctx context.Context, id string) (poll.Observation[[]string], error) {
		body, err := a.http.get(ctx, "poll", endpoint+"/"+id, credential, nil)
		if err != nil {
			return poll.Observation[[]string]{}, err
		}
		event, payload := lastGradioEvent(body)
		switch event {
		case "complete":
			return poll.Observation[[]string]{State: poll.Done, Result: gradioImageURLs(space, payload), VendorStatus: event}, nil
		case "error":
			return poll.Observation[[]string]{State: poll.Failed, Detail: truncate(payload), VendorStatus: event}, nil
		default:
			return poll.Observation[[]string]{State: poll.Pending, VendorStatus: event}, nil
		}
	})
	if err != nil {
		return nil, pollError(HuggingFace, err)
	}
	if len(task.Result) == 0 {
		return nil, a.http.noImages()
	}
	return task.Result, nil
}

func gradioFile(url string) map[string]any {
	return map[string]any{"path": url, "url": url, "meta": map[string]any{"_type": "gradio.FileData"}}
}

// lastGradioEvent returns the first terminal event of an SSE body, or the
// last event seen when the stream ended early.
func lastGradioEvent(body []byte) (event, data string) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), maxResponseBytes)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			data = ""
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event == "complete" || event == "error" {
				return event, data
			}
		}
	}
	return event, data
}

// gradioImageURLs extracts image URLs from the output of the first output
// component that carries any. Components are either a single file or a
// gallery of {image, caption} entries.
func gradioImageURLs(space, data string) []string {
	for _, component := range gjson.Parse(data).Array() {
		var urls []string
		if component.IsArray() {
			for _, item := range component.Array() {
				if u := gradioFileURL(space, item); u != "" {
					urls = append(urls, u)
				}
			}
		} else if u := gradioFileURL(space, component); u != "" {
			urls = append(urls, u)
		}
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func gradioFileURL(space string, v gjson.Result) string {
	if img := v.Get("image"); img.IsObject() {
		v = img
	}
	if v.Type == gjson.String && strings.HasPrefix(v.String(), "http") {
		return v.String()
	}
	if !v.IsObject() {
		return ""
	}
	if u := v.Get("url").String(); u != "" {
		return u
	}
	if p := v.Get("path").String(); p != "" {
		return space + "/gradio_api/file=" + p
	}
	return ""
}
