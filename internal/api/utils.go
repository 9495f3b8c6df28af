package api

import (
	"context"
	"regexp"
	"strings"

	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/provider"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)

// normalizeRequest reduces a conversation to the latest user turn. Earlier
// turns are ignored even when they carry images.
func normalizeRequest(ctx context.Context, req ChatCompletionRequest) provider.Request {
	prompt, rawImages := extractPromptAndImages(req.Messages)

	logger := zerolog.Ctx(ctx)
	images := make([]imaging.Ref, 0, len(rawImages))
	for i, raw := range rawImages {
		ref, err := imaging.ParseRef(raw)
		if err != nil {
			logger.Warn().Err(err).Int("index", i).Msg("Ignoring unreadable image reference")
			continue
		}
		images = append(images, ref)
	}

	return provider.Request{
		Prompt: prompt,
		Images: images,
		Model:  req.Model,
		Size:   req.Size,
		Stream: req.Stream,
	}
}

func extractPromptAndImages(messages []ChatMessage) (string, []string) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		content := gjson.ParseBytes(messages[i].Content)
		switch {
		case content.Type == gjson.String:
			text := content.String()
			var images []string
			for _, m := range markdownImage.FindAllStringSubmatch(text, -1) {
				images = append(images, m[1])
			}
			return text, images
		case content.IsArray():
			return extractBlocks(content.Array())
		default:
			return "", nil
		}
	}
	return "", nil
}

// extractBlocks takes the first text block as the prompt and every image
// block, in order. image_url may be an object with a url or a bare string.
func extractBlocks(blocks []gjson.Result) (string, []string) {
	var prompt string
	var seenText bool
	var images []string
	for _, block := range blocks {
		switch block.Get("type").String() {
		case "text":
			if !seenText {
				prompt = block.Get("text").String()
				seenText = true
			}
		case "image_url":
			u := block.Get("image_url")
			if u.IsObject() {
				u = u.Get("url")
			}
			if s := strings.TrimSpace(u.String()); s != "" {
				images = append(images, s)
			}
		}
	}
	return prompt, images
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 6 && strings.EqualFold(header[:6], "bearer") {
		if rest := header[6:]; rest == "" || rest[0] == ' ' {
			header = rest
		}
	}
	return strings.TrimSpace(header)
}
