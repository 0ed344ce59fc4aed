package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"

	"github.com/theapemachine/nire/pkg/memory"
)

const system = `You extract memory facts from one conversational message.
Answer with JSON only, shaped as
{"category": "preference|knowledge|context",
 "importance": 0.0-1.0,
 "entities": [{"name": "...", "type": "person|place|topic|preference|concept"}],
 "relations": [{"source": "...", "target": "...", "type": "...", "confidence": 0.0-1.0}]}
Use short lower-case relation types such as prefers, avoids, lives_in, works_at.
Every relation endpoint must also appear in entities.`

type modelOutput struct {
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
	Entities   []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"entities"`
	Relations []struct {
		Source     string  `json:"source"`
		Target     string  `json:"target"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"relations"`
}

/*
Ollama extracts with a local model in JSON mode. When the model is
unreachable or answers something unparsable, the fallback extractor is used
instead, so extraction stays best-effort.
*/
type Ollama struct {
	client   *api.Client
	model    string
	fallback memory.Extractor
}

func NewOllama(host, model string, fallback memory.Extractor) (*Ollama, error) {
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
		model = "llama3.2"
	}

	return &Ollama{client: client, model: model, fallback: fallback}, nil
}

func (extractor *Ollama) Extract(ctx context.Context, text string) (memory.Extraction, error) {
	extraction, err := extractor.ask(ctx, text)

	if err == nil {
		return extraction, nil
	}

	if extractor.fallback == nil {
		return memory.Extraction{}, err
	}

	log.Warn("model extraction failed, using fallback", "model", extractor.model, "error", err)

	return extractor.fallback.Extract(ctx, text)
}

func (extractor *Ollama) ask(ctx context.Context, text string) (memory.Extraction, error) {
	stream := false

	req := &api.GenerateRequest{
		Model:  extractor.model,
		System: system,
		Prompt: text,
		Format: json.RawMessage(`"json"`),
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.0,
		},
	}

	var response strings.Builder

	if err := extractor.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		response.WriteString(resp.Response)
		return nil
	}); err != nil {
		return memory.Extraction{}, fmt.Errorf("generate: %w", err)
	}

	return parse(response.String())
}

func parse(raw string) (memory.Extraction, error) {
	var out modelOutput

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return memory.Extraction{}, fmt.Errorf("parse model output: %w", err)
	}

	extraction := memory.Extraction{Importance: out.Importance}

	switch out.Category {
	case memory.CategoryPreference, memory.CategoryKnowledge, memory.CategoryContext:
		extraction.Category = out.Category
	}

	for _, entity := range out.Entities {
		if strings.TrimSpace(entity.Name) == "" {
			continue
		}

		extraction.Entities = append(extraction.Entities, memory.Entity{
			Name:    entity.Name,
			Display: entity.Name,
			Type:    entityType(entity.Type),
		})
	}

	for _, relation := range out.Relations {
		if relation.Source == "" || relation.Target == "" || relation.Type == "" {
			continue
		}

		confidence := relation.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = relationConfidence
		}

		extraction.Relations = append(extraction.Relations, memory.Relation{
			Source:     relation.Source,
			Target:     relation.Target,
			Type:       strings.ToLower(strings.TrimSpace(relation.Type)),
			Confidence: confidence,
		})
	}

	return extraction, nil
}

func entityType(raw string) memory.EntityType {
	switch kind := memory.EntityType(strings.ToLower(raw)); kind {
	case memory.EntityPerson, memory.EntityPlace, memory.EntityTopic, memory.EntityPreference:
		return kind
	}

	return memory.EntityConcept
}
