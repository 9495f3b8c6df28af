// Package provider translates a normalized image request into each
// vendor's protocol and back into an ordered list of images.
package provider

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
)

// defaultPrompt is sent when the conversation carried no text.
const defaultPrompt = "A beautiful scenery"

// Request is the canonical input every adapter consumes.
type Request struct {
	Prompt string
	// Images are edit references, in the order the caller supplied them.
	Images []imaging.Ref
	Model  string
	Size   string
	Stream bool
}

// IsEdit reports whether the request must be served as an edit/fusion.
func (r Request) IsEdit() bool {
	return len(r.Images) > 0
}

func (r Request) prompt() string {
	if strings.TrimSpace(r.Prompt) == "" {
		return defaultPrompt
	}
	return r.Prompt
}

// Result holds generated images in the order the vendor returned them.
type Result struct {
	Images []imaging.Ref
}

// Adapter is implemented once per vendor.
type Adapter interface {
	Identity() Identity
	Generate(ctx context.Context, credential string, req Request) (*Result, error)
}

// VendorError is any failure talking to a vendor: a non-2xx response, a
// malformed payload, a failed or timed out task, or a transport error.
type VendorError struct {
	Provider   Identity
	StatusCode int
	Detail     string
	Err        error
}

func (e *VendorError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Detail)
	case e.Err != nil && e.Detail != "":
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Detail)
	}
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// resolveModel returns the requested model when the relevant catalogue
// lists it, otherwise the catalogue's fallback.
func resolveModel(c config.Catalog, requested string, edit bool) string {
	if edit {
		if slices.Contains(c.EditModels, requested) {
			return requested
		}
		return c.EditModels[0]
	}
	if slices.Contains(c.Models, requested) {
		return requested
	}
	return c.DefaultModel
}

func resolveSize(c config.Catalog, requested string, edit bool) string {
	if requested != "" {
		return requested
	}
	if edit {
		return c.DefaultEditSize
	}
	return c.DefaultSize
}

// parseSize splits a "WIDTHxHEIGHT" string, falling back to 1024x1024.
func parseSize(size string) (width, height int) {
	w, h, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return 1024, 1024
	}
	width, errW := strconv.Atoi(strings.TrimSpace(w))
	height, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 1024, 1024
	}
	return width, height
}

// Registry maps identities to adapters.
type Registry struct {
	adapters map[Identity]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Identity]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Identity()] = a
	}
	return r
}

func (r *Registry) Lookup(id Identity) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Identities lists the registered providers in a stable order.
func (r *Registry) Identities() []Identity {
	ids := make([]Identity, 0, len(r.adapters))
	for _, id := range []Identity{VolcEngine, Gitee, ModelScope, HuggingFace} {
		if _, ok := r.adapters[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
