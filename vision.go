package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultVisionModel    = "gpt-4o-mini"
	DefaultVisionPrompt   = "Describe this image in detail. If it contains text, transcribe the important parts."
	DefaultDocumentPrompt = "Extract the text of this document. Keep headings and lists."
)

// OpenAIVision describes images with a chat completion model.
type OpenAIVision struct {
	client openai.Client
	model  string
}

var (
	_ VisionAnalyzer = (*OpenAIVision)(nil)
	_ DocumentReader = (*OpenAIVision)(nil)
)

func NewOpenAIVision(model string, opts ...option.RequestOption) *OpenAIVision {
	if model == "" {
		model = DefaultVisionModel
	}
	return &OpenAIVision{client: openai.NewClient(opts...), model: model}
}

// ReadDocument sends a PDF to the model as a file part.
func (v *OpenAIVision) ReadDocument(ctx context.Context, name string, doc []byte, prompt string) (string, error) {
	if len(doc) == 0 {
		return "", fmt.Errorf("%w: empty document", shared.ErrVision)
	}
	if prompt == "" {
		prompt = DefaultDocumentPrompt
	}
	if mime := http.DetectContentType(doc); mime != "application/pdf" {
		return "", fmt.Errorf("%w: unsupported content type %s", shared.ErrVision, mime)
	}
	return v.complete(ctx, []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String("data:application/pdf;base64," + base64.StdEncoding.EncodeToString(doc)),
			Filename: openai.String(name),
		}),
	})
}

func (v *OpenAIVision) AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", shared.ErrVision)
	}
	if prompt == "" {
		prompt = DefaultVisionPrompt
	}
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%w: unsupported content type %s", shared.ErrVision, mime)
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	return v.complete(ctx, []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	})
}

func (v *OpenAIVision) complete(ctx context.Context, parts []openai.ChatCompletionContentPartUnionParam) (string, error) {
	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(v.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrVision, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %w", shared.ErrVision, errors.New("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
