package generator

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ImageGenerator 根据提示词生成图片，返回 base64 数据。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// OpenAIImages 基于 OpenAI images 接口实现 ImageGenerator。
type OpenAIImages struct {
	Model  string
	Size   string
	client openai.Client
}

func NewOpenAIImages(apiKey, model, size string, extra ...option.RequestOption) (*OpenAIImages, error) {
	if apiKey == "" {
		return nil, errors.New("image api key missing; provide images.api_key")
	}
	if model == "" {
		model = openai.ImageModelGPTImage1
	}
	opts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, extra...)
	return &OpenAIImages{Model: model, Size: size, client: openai.NewClient(opts...)}, nil
}

func (o *OpenAIImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(o.Model),
		N:      openai.Int(1),
	}
	if o.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(o.Size)
	}
	// dall-e 默认返回 URL，需显式要求 base64；gpt-image-1 不接受该参数。
	if strings.HasPrefix(o.Model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := o.client.Images.Generate(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: "openai-images", StatusCode: apiErr.StatusCode, Header: headerOf(apiErr.Response), Message: apiErr.Message, Err: err}
		}
		return "", &ProviderError{Provider: "openai-images", Message: err.Error(), Err: err}
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", &ProviderError{Provider: "openai-images", Message: "no image data returned"}
	}
	return resp.Data[0].B64JSON, nil
}

// MockImages 返回一张 1x1 透明 PNG。
type MockImages struct{}

const transparentPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func (MockImages) GenerateImage(context.Context, string) (string, error) {
	return transparentPNG, nil
}
