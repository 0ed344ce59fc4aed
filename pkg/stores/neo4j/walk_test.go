package neo4j

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/nire/pkg/memory"
)

// graphOf answers expansions from an undirected adjacency list. It ignores
// visited on purpose so the walk has to drop revisits itself.
func graphOf(edges ...[2]string) (func(frontier, visited []string) ([]memory.Entity, error), *int) {
	adjacency := map[string][]string{}

	for _, edge := range edges {
		adjacency[edge[0]] = append(adjacency[edge[0]], edge[1])
		adjacency[edge[1]] = append(adjacency[edge[1]], edge[0])
	}

	calls := 0

	return func(frontier, visited []string) ([]memory.Entity, error) {
		calls++

		var out []memory.Entity

		for _, name := range frontier {
			for _, next := range adjacency[name] {
				out = append(out, memory.Entity{Name: next})
			}
		}

		return out, nil
	}, &calls
}

func named(names ...string) []memory.Entity {
	out := make([]memory.Entity, 0, len(names))

	for _, name := range names {
		out = append(out, memory.Entity{Name: name})
	}

	return out
}

func hopsOf(hits []memory.EntityHit) map[string]int {
	out := map[string]int{}

	for _, hit := range hits {
		out[hit.Entity.Name] = hit.Hops
	}

	return out
}

func TestWalk(t *testing.T) {
	Convey("Given a chain a-b-c-d-e", t, func() {
		expand, calls := graphOf([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "d"}, [2]string{"d", "e"})

		Convey("When walking two hops from a", func() {
			hits, err := walk(named("a"), 2, expand)

			Convey("Then nothing beyond two hops is reached", func() {
				So(err, ShouldBeNil)
				So(hopsOf(hits), ShouldResemble, map[string]int{"a": 0, "b": 1, "c": 2})
				So(*calls, ShouldEqual, 2)
			})
		})

		Convey("When walking zero hops", func() {
			hits, err := walk(named("c"), 0, expand)

			Convey("Then only the seed comes back and nothing is expanded", func() {
				So(err, ShouldBeNil)
				So(hopsOf(hits), ShouldResemble, map[string]int{"c": 0})
				So(*calls, ShouldEqual, 0)
			})
		})

		Convey("When the walk runs out of graph before maxHops", func() {
			hits, err := walk(named("a"), 10, expand)

			Convey("Then it stops once the frontier is empty", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 5)
				So(*calls, ShouldEqual, 5)
			})
		})
	})

	Convey("Given a cycle a-b-c-a with a tail c-d", t, func() {
		expand, _ := graphOf([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"}, [2]string{"c", "d"})

		Convey("When walking far past the cycle length", func() {
			hits, err := walk(named("a"), 50, expand)

			Convey("Then every entity appears once at its shortest distance", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 4)
				So(hopsOf(hits), ShouldResemble, map[string]int{"a": 0, "b": 1, "c": 1, "d": 2})
			})

			Convey("Then hits are ordered by hops, then name", func() {
				So(hits[0].Entity.Name, ShouldEqual, "a")
				So(hits[1].Entity.Name, ShouldEqual, "b")
				So(hits[2].Entity.Name, ShouldEqual, "c")
				So(hits[3].Entity.Name, ShouldEqual, "d")
			})
		})

		Convey("When two seeds sit on the cycle", func() {
			hits, err := walk(named("a", "c", "a"), 1, expand)

			Convey("Then both stay at hop zero and duplicates collapse", func() {
				So(err, ShouldBeNil)
				So(hopsOf(hits), ShouldResemble, map[string]int{"a": 0, "c": 0, "b": 1, "d": 1})
			})
		})
	})

	Convey("Given an expansion that fails", t, func() {
		failing := func(frontier, visited []string) ([]memory.Entity, error) {
			return nil, ErrUnknownEntity
		}

		Convey("When walking", func() {
			_, err := walk(named("a"), 2, failing)

			Convey("Then the error is returned", func() {
				So(err, ShouldEqual, ErrUnknownEntity)
			})
		})
	})
}
