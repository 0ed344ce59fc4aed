/*
Package extract finds entities and relations in conversational text. The
heuristic extractor runs locally on word patterns; the Ollama extractor asks
a model and falls back to another extractor when the model fails.
*/
package extract

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/theapemachine/nire/pkg/memory"
)

const (
	RelationPrefers = "prefers"
	RelationAvoids  = "avoids"

	preferenceImportance = 0.8
	knowledgeImportance  = 0.9
	contextImportance    = 0.6
	relationConfidence   = 0.8

	maxKnown = 10000
)

var (
	likes = set("love", "loves", "like", "likes", "enjoy", "enjoys", "prefer", "prefers", "adore", "adores")

	dislikes = set("hate", "hates", "dislike", "dislikes", "avoid", "avoids", "detest", "detests")

	personal = []string{"i am ", "i'm ", "my name is ", "i work ", "i live ", "i was born "}

	placeMarkers = set("in", "at", "to", "from", "near", "visit", "visited", "visiting")

	stopwords = set(
		"i", "me", "my", "we", "you", "he", "she", "it", "they", "the", "a", "an",
		"to", "of", "and", "or", "but", "what", "who", "where", "when", "why", "how",
		"which", "do", "does", "did", "is", "are", "was", "were", "am", "be", "some",
		"about", "tell", "can", "could", "would", "should", "please", "any",
	)
)

/*
Heuristic is a rule-based Extractor and Seeder. It remembers the entity
names it has extracted so later queries mentioning them in lower case still
produce seeds.
*/
type Heuristic struct {
	mu    sync.RWMutex
	known map[string]struct{}
}

func NewHeuristic() *Heuristic {
	return &Heuristic{known: make(map[string]struct{})}
}

type word struct {
	text  string
	lower string
}

func (heuristic *Heuristic) Extract(ctx context.Context, text string) (memory.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return memory.Extraction{}, err
	}

	words := split(text)
	lower := " " + strings.ToLower(strings.Join(strings.Fields(text), " ")) + " "

	extraction := memory.Extraction{
		Category:   memory.CategoryContext,
		Importance: contextImportance,
	}

	var (
		topic    string
		relation string
	)

	for i, w := range words {
		_, like := likes[w.lower]
		_, dislike := dislikes[w.lower]

		if !like && !dislike {
			continue
		}

		extraction.Category = memory.CategoryPreference
		extraction.Importance = preferenceImportance
		relation = RelationPrefers

		if dislike {
			relation = RelationAvoids
		}

		if object := objectAfter(words, i+1); object != "" {
			topic = object
			extraction.Entities = append(extraction.Entities, memory.Entity{
				Name:    object,
				Display: object,
				Type:    memory.EntityTopic,
			})
		}

		break
	}

	if extraction.Category == memory.CategoryContext {
		for _, phrase := range personal {
			if strings.Contains(lower, " "+phrase) {
				extraction.Category = memory.CategoryKnowledge
				extraction.Importance = knowledgeImportance
				break
			}
		}
	}

	for i, w := range words {
		if i == 0 || !capitalized(w.text) || w.lower == "i" || strings.EqualFold(w.text, topic) {
			continue
		}

		kind := memory.EntityPerson

		if _, ok := placeMarkers[words[i-1].lower]; ok {
			kind = memory.EntityPlace
		}

		extraction.Entities = append(extraction.Entities, memory.Entity{
			Name:    w.text,
			Display: w.text,
			Type:    kind,
		})
	}

	if topic != "" {
		for _, entity := range extraction.Entities {
			if entity.Name == topic {
				continue
			}

			extraction.Relations = append(extraction.Relations, memory.Relation{
				Source:     topic,
				Target:     entity.Name,
				Type:       relation,
				Confidence: relationConfidence,
			})
		}
	}

	heuristic.learn(extraction.Entities)

	return extraction, nil
}

/*
Seeds returns the capitalized words of text that are not stopwords, plus
any word naming an entity this extractor has seen before.
*/
func (heuristic *Heuristic) Seeds(text string) []string {
	var seeds []string

	heuristic.mu.RLock()
	defer heuristic.mu.RUnlock()

	for _, w := range split(text) {
		if _, stop := stopwords[w.lower]; stop {
			continue
		}

		_, known := heuristic.known[w.lower]

		if known || capitalized(w.text) {
			seeds = append(seeds, w.text)
		}
	}

	return seeds
}

func (heuristic *Heuristic) learn(entities []memory.Entity) {
	heuristic.mu.Lock()
	defer heuristic.mu.Unlock()

	for _, entity := range entities {
		if len(heuristic.known) >= maxKnown {
			return
		}

		heuristic.known[strings.ToLower(entity.Name)] = struct{}{}
	}
}

// objectAfter returns the first non-stopword from index i on.
func objectAfter(words []word, i int) string {
	for ; i < len(words); i++ {
		if _, stop := stopwords[words[i].lower]; !stop {
			return words[i].lower
		}
	}

	return ""
}

func split(text string) []word {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})

	words := make([]word, 0, len(fields))

	for _, field := range fields {
		field = strings.Trim(field, "'-")

		if field == "" {
			continue
		}

		words = append(words, word{text: field, lower: strings.ToLower(field)})
	}

	return words
}

func capitalized(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}

	return false
}

func set(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))

	for _, w := range words {
		out[w] = struct{}{}
	}

	return out
}
