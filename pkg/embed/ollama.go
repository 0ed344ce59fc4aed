package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

/*
Ollama embeds with a locally served model.
*/
type Ollama struct {
	client     *api.Client
	model      string
	dimensions int
}

/*
NewOllama uses host when given and OLLAMA_HOST otherwise.
*/
func NewOllama(host, model string, dimensions int) (*Ollama, error) {
	var (
		client *api.Client
		err    error
	)

	if host == "" {
		client, err = api.ClientFromEnvironment()
	} else {
		var base *url.URL

		if base, err = url.Parse(host); err == nil {
			client = api.NewClient(base, http.DefaultClient)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}

	if model == "" {
		model = "nomic-embed-text"
	}

	return &Ollama{client: client, model: model, dimensions: dimensions}, nil
}

func (embedder *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := embedder.client.Embed(ctx, &api.EmbedRequest{
		Model: embedder.model,
		Input: text,
	})

	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: no embedding returned for model %s", embedder.model)
	}

	return resp.Embeddings[0], nil
}

func (embedder *Ollama) Dimensions() int {
	return embedder.dimensions
}
