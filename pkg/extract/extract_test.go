package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/nire/pkg/memory"
)

func names(entities []memory.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, entity := range entities {
		out = append(out, entity.Name)
	}
	return out
}

func TestHeuristicExtract(t *testing.T) {
	Convey("Given a heuristic extractor", t, func() {
		ctx := context.Background()
		heuristic := NewHeuristic()

		Convey("When a turn states a preference", func() {
			extraction, err := heuristic.Extract(ctx, "I love hiking in Colorado")
			So(err, ShouldBeNil)

			Convey("Then it is a preference with a topic and a place", func() {
				So(extraction.Category, ShouldEqual, memory.CategoryPreference)
				So(extraction.Importance, ShouldEqual, 0.8)
				So(names(extraction.Entities), ShouldResemble, []string{"hiking", "Colorado"})
				So(extraction.Entities[0].Type, ShouldEqual, memory.EntityTopic)
				So(extraction.Entities[1].Type, ShouldEqual, memory.EntityPlace)
			})

			Convey("Then the topic prefers the co-mentioned entity", func() {
				So(extraction.Relations, ShouldResemble, []memory.Relation{
					{Source: "hiking", Target: "Colorado", Type: RelationPrefers, Confidence: 0.8},
				})
			})
		})

		Convey("When a turn states a dislike", func() {
			extraction, _ := heuristic.Extract(ctx, "I hate crowds in Paris")

			Convey("Then the relation is avoids", func() {
				So(extraction.Relations, ShouldHaveLength, 1)
				So(extraction.Relations[0].Type, ShouldEqual, RelationAvoids)
				So(extraction.Relations[0].Target, ShouldEqual, "Paris")
			})
		})

		Convey("When a turn is about the speaker", func() {
			extraction, _ := heuristic.Extract(ctx, "My name is Ada and I live near Boston")

			Convey("Then it is knowledge with a person and a place", func() {
				So(extraction.Category, ShouldEqual, memory.CategoryKnowledge)
				So(extraction.Importance, ShouldEqual, 0.9)
				So(extraction.Entities, ShouldHaveLength, 2)
				So(extraction.Entities[0].Type, ShouldEqual, memory.EntityPerson)
				So(extraction.Entities[1].Type, ShouldEqual, memory.EntityPlace)
				So(extraction.Relations, ShouldBeEmpty)
			})
		})

		Convey("When a turn is small talk", func() {
			extraction, _ := heuristic.Extract(ctx, "the weather is nice today")

			Convey("Then it is context with nothing extracted", func() {
				So(extraction.Category, ShouldEqual, memory.CategoryContext)
				So(extraction.Importance, ShouldEqual, 0.6)
				So(extraction.Entities, ShouldBeEmpty)
			})
		})
	})
}

func TestHeuristicSeeds(t *testing.T) {
	Convey("Given a heuristic seeder", t, func() {
		heuristic := NewHeuristic()

		Convey("When the query has no names", func() {
			Convey("Then there are no seeds", func() {
				So(heuristic.Seeds("What do I enjoy?"), ShouldBeEmpty)
			})
		})

		Convey("When the query names a place", func() {
			Convey("Then the capitalized word is a seed", func() {
				So(heuristic.Seeds("What should I do in Colorado?"), ShouldResemble, []string{"Colorado"})
			})
		})

		Convey("When an entity was extracted before", func() {
			heuristic.Extract(context.Background(), "I love hiking in Colorado")

			Convey("Then a lower-case mention still seeds", func() {
				So(heuristic.Seeds("any tips for hiking"), ShouldResemble, []string{"hiking"})
			})
		})
	})
}

func TestParse(t *testing.T) {
	Convey("Given model output", t, func() {
		Convey("When it is well formed", func() {
			extraction, err := parse(`{"category":"preference","importance":0.7,
				"entities":[{"name":"Hiking","type":"topic"},{"name":"Colorado","type":"PLACE"},{"name":"","type":"x"}],
				"relations":[{"source":"Hiking","target":"Colorado","type":" Prefers ","confidence":0},{"source":"","target":"x","type":"y"}]}`)

			Convey("Then it is normalized", func() {
				So(err, ShouldBeNil)
				So(extraction.Category, ShouldEqual, memory.CategoryPreference)
				So(extraction.Entities, ShouldHaveLength, 2)
				So(extraction.Entities[1].Type, ShouldEqual, memory.EntityPlace)
				So(extraction.Relations, ShouldHaveLength, 1)
				So(extraction.Relations[0].Type, ShouldEqual, "prefers")
				So(extraction.Relations[0].Confidence, ShouldEqual, 0.8)
			})
		})

		Convey("When the category and types are unknown", func() {
			extraction, err := parse(`{"category":"gossip","entities":[{"name":"x","type":"alien"}]}`)

			Convey("Then they fall back to defaults", func() {
				So(err, ShouldBeNil)
				So(extraction.Category, ShouldEqual, "")
				So(extraction.Entities[0].Type, ShouldEqual, memory.EntityConcept)
			})
		})

		Convey("When it is not JSON", func() {
			_, err := parse("sure! here you go")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestOllama(t *testing.T) {
	Convey("Given an Ollama server", t, func() {
		body := `{"model":"m","response":"{\"category\":\"knowledge\",\"importance\":0.9,\"entities\":[{\"name\":\"Ada\",\"type\":\"person\"}]}","done":true}`
		status := http.StatusOK

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(body))
		}))
		defer ts.Close()

		extractor, err := NewOllama(ts.URL, "m", NewHeuristic())
		So(err, ShouldBeNil)

		Convey("When the model answers", func() {
			extraction, err := extractor.Extract(context.Background(), "My name is Ada")

			Convey("Then its answer is used", func() {
				So(err, ShouldBeNil)
				So(extraction.Category, ShouldEqual, memory.CategoryKnowledge)
				So(names(extraction.Entities), ShouldResemble, []string{"Ada"})
			})
		})

		Convey("When the model fails", func() {
			status = http.StatusInternalServerError
			body = `{"error":"model not loaded"}`

			extraction, err := extractor.Extract(context.Background(), "I love hiking in Colorado")

			Convey("Then the fallback extractor answers", func() {
				So(err, ShouldBeNil)
				So(extraction.Category, ShouldEqual, memory.CategoryPreference)
				So(extraction.Relations, ShouldHaveLength, 1)
			})
		})
	})
}
