package memgraph

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

func entities(names ...string) []memory.Entity {
	out := make([]memory.Entity, 0, len(names))

	for _, name := range names {
		out = append(out, memory.Entity{Name: name, Type: memory.EntityConcept, Mentions: 1})
	}

	return out
}

func chain(names ...string) []memory.Relation {
	var out []memory.Relation

	for i := 0; i+1 < len(names); i++ {
		out = append(out, memory.Relation{Source: names[i], Target: names[i+1], Type: "related_to", Confidence: 0.5})
	}

	return out
}

func TestTraverse(t *testing.T) {
	Convey("Given a chain a-b-c-d-e", t, func() {
		ctx := context.Background()
		store := New()
		So(store.UpsertEntities(ctx, entities("a", "b", "c", "d", "e")), ShouldBeNil)
		So(store.UpsertRelations(ctx, chain("a", "b", "c", "d", "e")), ShouldBeNil)

		Convey("When traversing two hops from a", func() {
			hits, err := store.Traverse(ctx, []string{"a"}, 2)

			Convey("Then only entities within two hops are reached", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 3)

				for _, hit := range hits {
					So(hit.Hops, ShouldBeLessThanOrEqualTo, 2)
				}

				So(hits[0].Entity.Name, ShouldEqual, "a")
				So(hits[0].Hops, ShouldEqual, 0)
				So(hits[2].Entity.Name, ShouldEqual, "c")
				So(hits[2].Hops, ShouldEqual, 2)
			})
		})

		Convey("When traversing zero hops", func() {
			hits, err := store.Traverse(ctx, []string{"c"}, 0)

			Convey("Then only the seed is returned", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 1)
				So(hits[0].Entity.Name, ShouldEqual, "c")
			})
		})

		Convey("When a seed is unknown", func() {
			hits, err := store.Traverse(ctx, []string{"zzz"}, 3)

			Convey("Then nothing is reached", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldBeEmpty)
			})
		})

		Convey("When traversing from the middle", func() {
			hits, err := store.Traverse(ctx, []string{"c"}, 1)

			Convey("Then relations are followed in both directions", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 3)
			})
		})
	})

	Convey("Given a graph with cycles", t, func() {
		ctx := context.Background()
		store := New()
		So(store.UpsertEntities(ctx, entities("x", "y", "z", "w")), ShouldBeNil)
		So(store.UpsertRelations(ctx, chain("x", "y", "z", "x")), ShouldBeNil)
		So(store.UpsertRelations(ctx, chain("z", "w")), ShouldBeNil)

		Convey("When traversing far deeper than the graph", func() {
			done := make(chan []memory.EntityHit, 1)

			go func() {
				hits, _ := store.Traverse(ctx, []string{"x"}, 1000)
				done <- hits
			}()

			Convey("Then the walk terminates with each entity once at its shortest hop", func() {
				var hits []memory.EntityHit

				select {
				case hits = <-done:
				case <-time.After(2 * time.Second):
					t.Fatal("traversal did not terminate")
				}

				So(hits, ShouldHaveLength, 4)

				hops := map[string]int{}
				for _, hit := range hits {
					hops[hit.Entity.Name] = hit.Hops
				}

				So(hops["x"], ShouldEqual, 0)
				So(hops["y"], ShouldEqual, 1)
				So(hops["z"], ShouldEqual, 1)
				So(hops["w"], ShouldEqual, 2)
			})
		})
	})
}

func TestUpsertRelations(t *testing.T) {
	Convey("Given a store with one entity", t, func() {
		ctx := context.Background()
		store := New()
		So(store.UpsertEntities(ctx, entities("hiking")), ShouldBeNil)

		Convey("When a relation names an unknown endpoint", func() {
			err := store.UpsertRelations(ctx, []memory.Relation{
				{Source: "hiking", Target: "colorado", Type: "prefers", Confidence: 0.8},
			})

			Convey("Then it is rejected and nothing is written", func() {
				So(errors.Is(err, ErrUnknownEntity), ShouldBeTrue)

				stats, _ := store.Stats(ctx)
				So(stats.Relations, ShouldEqual, 0)
			})
		})

		Convey("When the same relation is written twice", func() {
			So(store.UpsertEntities(ctx, entities("colorado")), ShouldBeNil)
			So(store.UpsertRelations(ctx, []memory.Relation{
				{Source: "hiking", Target: "colorado", Type: "prefers", Confidence: 0.5, MemoryIDs: []string{"m1"}},
			}), ShouldBeNil)
			So(store.UpsertRelations(ctx, []memory.Relation{
				{Source: "hiking", Target: "colorado", Type: "prefers", Confidence: 0.8, MemoryIDs: []string{"m2"}},
			}), ShouldBeNil)

			Convey("Then it is merged", func() {
				snapshot, err := store.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(snapshot.Relations, ShouldHaveLength, 1)
				So(snapshot.Relations[0].Confidence, ShouldEqual, 0.8)
				So(snapshot.Relations[0].MemoryIDs, ShouldResemble, []string{"m1", "m2"})
			})
		})
	})
}

func TestUpsertEntities(t *testing.T) {
	Convey("Given an entity upserted twice", t, func() {
		ctx := context.Background()
		store := New()
		early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		late := early.Add(time.Hour)

		So(store.UpsertEntities(ctx, []memory.Entity{
			{Name: "colorado", Type: memory.EntityPlace, FirstSeen: late, LastReferenced: late, Mentions: 1},
		}), ShouldBeNil)
		So(store.UpsertEntities(ctx, []memory.Entity{
			{Name: "colorado", FirstSeen: early, LastReferenced: early, Mentions: 1},
		}), ShouldBeNil)

		Convey("Then there is one entity with merged bookkeeping", func() {
			snapshot, _ := store.Snapshot(ctx)
			So(snapshot.Entities, ShouldHaveLength, 1)
			So(snapshot.Entities[0].Type, ShouldEqual, memory.EntityPlace)
			So(snapshot.Entities[0].FirstSeen, ShouldEqual, early)
			So(snapshot.Entities[0].LastReferenced, ShouldEqual, late)
			So(snapshot.Entities[0].Mentions, ShouldEqual, 0)
		})
	})
}

func TestMentions(t *testing.T) {
	Convey("Given a memory synced into the graph", t, func() {
		ctx := context.Background()
		store := New()
		now := time.Now().UTC()
		pending := memory.PendingSync{
			Item:      memory.MemoryItem{ID: "m1", Text: "hiking in colorado", Timestamp: now, Entities: []string{"colorado", "hiking"}},
			Entities:  entities("hiking", "colorado"),
			Relations: chain("hiking", "colorado"),
		}

		So(memory.SyncGraph(ctx, store, pending), ShouldBeNil)

		mentions := func(name string) int {
			snapshot, _ := store.Snapshot(ctx)

			for _, entity := range snapshot.Entities {
				if entity.Name == name {
					return entity.Mentions
				}
			}

			return -1
		}

		Convey("When the same sync is replayed", func() {
			So(memory.SyncGraph(ctx, store, pending), ShouldBeNil)

			Convey("Then every entity still counts one mention", func() {
				So(mentions("hiking"), ShouldEqual, 1)
				So(mentions("colorado"), ShouldEqual, 1)
			})
		})

		Convey("When another memory mentions one of the entities", func() {
			other := memory.PendingSync{
				Item:     memory.MemoryItem{ID: "m2", Text: "colorado again", Timestamp: now, Entities: []string{"colorado"}},
				Entities: entities("colorado"),
			}
			So(memory.SyncGraph(ctx, store, other), ShouldBeNil)

			Convey("Then only that entity counts another mention", func() {
				So(mentions("colorado"), ShouldEqual, 2)
				So(mentions("hiking"), ShouldEqual, 1)
			})
		})
	})
}

func TestSupporting(t *testing.T) {
	Convey("Given memories mentioning entities at different distances", t, func() {
		ctx := context.Background()
		store := New()
		now := time.Now().UTC()

		So(store.UpsertEntities(ctx, entities("a", "b", "c")), ShouldBeNil)
		So(store.UpsertRelations(ctx, chain("a", "b", "c")), ShouldBeNil)
		So(store.LinkMemory(ctx, memory.MemoryItem{ID: "m1", Text: "about c", Timestamp: now, Entities: []string{"c"}}), ShouldBeNil)
		So(store.LinkMemory(ctx, memory.MemoryItem{ID: "m2", Text: "about a and c", Timestamp: now, Entities: []string{"a", "c"}, Embedding: []float32{1}}), ShouldBeNil)
		So(store.LinkMemory(ctx, memory.MemoryItem{ID: "m3", Text: "about b", Timestamp: now.Add(-time.Hour), Entities: []string{"b"}}), ShouldBeNil)

		hits, err := store.Traverse(ctx, []string{"a"}, 2)
		So(err, ShouldBeNil)

		Convey("When asking for supporting memories", func() {
			supporting, err := store.Supporting(ctx, hits, 10)

			Convey("Then each memory appears once at its closest hop", func() {
				So(err, ShouldBeNil)
				So(supporting, ShouldHaveLength, 3)
				So(supporting[0].Item.ID, ShouldEqual, "m2")
				So(supporting[0].Hops, ShouldEqual, 0)
				So(supporting[0].Entities, ShouldResemble, []string{"a", "c"})
				So(supporting[0].Item.Embedding, ShouldBeNil)
				So(supporting[1].Item.ID, ShouldEqual, "m3")
				So(supporting[2].Item.ID, ShouldEqual, "m1")
			})
		})

		Convey("When the limit is smaller than the result", func() {
			supporting, err := store.Supporting(ctx, hits, 1)

			Convey("Then only the closest memory is returned", func() {
				So(err, ShouldBeNil)
				So(supporting, ShouldHaveLength, 1)
				So(supporting[0].Item.ID, ShouldEqual, "m2")
			})
		})

		Convey("When memories are deleted", func() {
			old, err := store.Memories(ctx, now)
			So(err, ShouldBeNil)
			So(old, ShouldHaveLength, 1)
			So(store.DeleteMemories(ctx, "m3"), ShouldBeNil)

			Convey("Then they no longer support anything", func() {
				supporting, _ := store.Supporting(ctx, hits, 10)
				So(supporting, ShouldHaveLength, 2)

				stats, _ := store.Stats(ctx)
				So(stats.Memories, ShouldEqual, 2)
			})
		})
	})
}
