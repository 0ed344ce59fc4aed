/*
Package embed holds the Embedder implementations: a deterministic local
hashing embedder, OpenAI and Ollama clients, and an LRU-style cache that
can wrap any of them.
*/
package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/utils"
)

var ErrNoTokens = errors.New("text has no tokens to embed")

/*
Hash is a feature-hashing embedder. Each lower-cased word adds one to the
bucket it hashes to and the result is normalized, so texts sharing words
point the same way and no two texts are ever dissimilar. It needs no model and is stable
across runs, which makes it the default for tests and offline use.
*/
type Hash struct {
	dimensions int
}

func NewHash(dimensions int) *Hash {
	if dimensions <= 0 {
		dimensions = 384
	}

	return &Hash{dimensions: dimensions}
}

func (embedder *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := Tokenize(text)

	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}

	vector := make([]float32, embedder.dimensions)

	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		vector[h.Sum64()%uint64(embedder.dimensions)]++
	}

	return utils.Normalize(vector), nil
}

func (embedder *Hash) Dimensions() int {
	return embedder.dimensions
}

/*
Tokenize splits text into lower-cased runs of letters and digits.
*/
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
