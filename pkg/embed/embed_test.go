package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/option"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/nire/pkg/memory"
)

func TestHash(t *testing.T) {
	Convey("Given a hash embedder", t, func() {
		ctx := context.Background()
		embedder := NewHash(64)

		Convey("When embedding the same text twice", func() {
			a, err := embedder.Embed(ctx, "I love hiking in Colorado")
			So(err, ShouldBeNil)
			b, _ := embedder.Embed(ctx, "I love hiking in Colorado")

			Convey("Then the vectors are identical and unit length", func() {
				So(a, ShouldResemble, b)
				So(a, ShouldHaveLength, 64)
				So(memory.Cosine(a, a), ShouldAlmostEqual, 1.0, 1e-6)
			})
		})

		Convey("When texts share words", func() {
			embedder := NewHash(384)

			a, _ := embedder.Embed(ctx, "I love hiking in Colorado")
			b, _ := embedder.Embed(ctx, "What do I enjoy?")
			c, _ := embedder.Embed(ctx, "hiking Colorado")

			Convey("Then they are more similar the more they share", func() {
				So(memory.Cosine(a, c), ShouldBeGreaterThan, memory.Cosine(a, b))
				So(memory.Cosine(a, b), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the text has no words", func() {
			_, err := embedder.Embed(ctx, " ?! ")

			Convey("Then it fails", func() {
				So(errors.Is(err, ErrNoTokens), ShouldBeTrue)
			})
		})

		Convey("Then the default dimensionality applies", func() {
			So(NewHash(0).Dimensions(), ShouldEqual, 384)
		})
	})
}

func TestTokenize(t *testing.T) {
	Convey("Given mixed text", t, func() {
		Convey("Then it splits on everything but letters and digits", func() {
			So(Tokenize("What's up, Colorado-2026?"), ShouldResemble, []string{"what", "s", "up", "colorado", "2026"})
		})
	})
}

func TestOpenAI(t *testing.T) {
	Convey("Given an OpenAI-compatible server", t, func() {
		var request map[string]any

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&request)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
		}))
		defer ts.Close()

		embedder := NewOpenAI(2,
			WithOpenAIModel("m"),
			WithOpenAIClient(option.WithBaseURL(ts.URL+"/"), option.WithAPIKey("test"), option.WithMaxRetries(0)),
		)

		Convey("When embedding", func() {
			vector, err := embedder.Embed(context.Background(), "hello")

			Convey("Then the float64 response is converted", func() {
				So(err, ShouldBeNil)
				So(vector, ShouldResemble, []float32{0.5, 0.25})
				So(embedder.Dimensions(), ShouldEqual, 2)
				So(request["model"], ShouldEqual, "m")
				So(request["dimensions"], ShouldEqual, 2.0)
			})
		})
	})
}

func TestOllama(t *testing.T) {
	Convey("Given an Ollama server", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/embed" {
				w.WriteHeader(http.StatusNotFound)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3]]}`))
		}))
		defer ts.Close()

		embedder, err := NewOllama(ts.URL, "", 3)
		So(err, ShouldBeNil)

		Convey("When embedding", func() {
			vector, err := embedder.Embed(context.Background(), "hello")

			Convey("Then the first embedding is returned", func() {
				So(err, ShouldBeNil)
				So(vector, ShouldResemble, []float32{0.1, 0.2, 0.3})
			})
		})
	})
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (embedder *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedder.calls.Add(1)
	return []float32{1, 0}, nil
}

func (embedder *countingEmbedder) Dimensions() int { return 2 }

func TestCached(t *testing.T) {
	Convey("Given a cached embedder", t, func() {
		inner := &countingEmbedder{}
		cached, err := NewCached(inner, 16)
		So(err, ShouldBeNil)
		defer cached.Close()

		ctx := context.Background()

		Convey("When the same text is embedded twice", func() {
			first, err := cached.Embed(ctx, "hello")
			So(err, ShouldBeNil)
			cached.Wait()

			second, err := cached.Embed(ctx, "hello")
			So(err, ShouldBeNil)

			Convey("Then the inner embedder runs once", func() {
				So(second, ShouldResemble, first)
				So(int(inner.calls.Load()), ShouldEqual, 1)
				So(cached.Dimensions(), ShouldEqual, 2)
			})

			Convey("Then callers cannot corrupt the cached vector", func() {
				second[0] = 42
				third, _ := cached.Embed(ctx, "hello")
				So(third[0], ShouldEqual, float32(1))
			})
		})
	})
}
