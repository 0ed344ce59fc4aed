package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theapemachine/nire/pkg/utils"
)

/*
OpenAI embeds through the embeddings endpoint of any OpenAI-compatible API.
*/
type OpenAI struct {
	api        openai.Client
	Model      string
	dimensions int
}

type OpenAIOption func(*OpenAI)

func NewOpenAI(dimensions int, options ...OpenAIOption) *OpenAI {
	embedder := &OpenAI{
		Model:      string(openai.EmbeddingModelTextEmbedding3Small),
		dimensions: dimensions,
	}

	for _, option := range options {
		option(embedder)
	}

	return embedder
}

func (embedder *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(embedder.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	}

	if embedder.dimensions > 0 {
		params.Dimensions = openai.Int(int64(embedder.dimensions))
	}

	resp, err := embedder.api.Embeddings.New(ctx, params)

	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned for model %s", embedder.Model)
	}

	return utils.ConvertToFloat32(resp.Data[0].Embedding), nil
}

func (embedder *OpenAI) Dimensions() int {
	return embedder.dimensions
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(embedder *OpenAI) {
		if model != "" {
			embedder.Model = model
		}
	}
}

/*
WithOpenAIClient builds the client from request options, for example an API
key or a base URL pointing at a compatible server.
*/
func WithOpenAIClient(opts ...option.RequestOption) OpenAIOption {
	return func(embedder *OpenAI) {
		embedder.api = openai.NewClient(opts...)
	}
}
