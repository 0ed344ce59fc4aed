package neo4j

import (
	"sort"

	"github.com/theapemachine/nire/pkg/memory"
)

/*
walk is a breadth-first expansion driven by expand, which returns the
neighbours of the frontier. Every entity is kept at the first hop it is
reached and never expanded again, so the walk ends on cyclic graphs and
stops at maxHops whatever expand returns.
*/
func walk(
	seeds []memory.Entity, maxHops int, expand func(frontier, visited []string) ([]memory.Entity, error),
) ([]memory.EntityHit, error) {
	hits := map[string]memory.EntityHit{}

	var frontier []string

	for _, seed := range seeds {
		if _, ok := hits[seed.Name]; ok || seed.Name == "" {
			continue
		}

		hits[seed.Name] = memory.EntityHit{Entity: seed, Hops: 0}
		frontier = append(frontier, seed.Name)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		visited := make([]string, 0, len(hits))
		for name := range hits {
			visited = append(visited, name)
		}

		neighbours, err := expand(frontier, visited)

		if err != nil {
			return nil, err
		}

		frontier = nil

		for _, entity := range neighbours {
			if _, ok := hits[entity.Name]; ok || entity.Name == "" {
				continue
			}

			hits[entity.Name] = memory.EntityHit{Entity: entity, Hops: hop}
			frontier = append(frontier, entity.Name)
		}
	}

	out := make([]memory.EntityHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, hit)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hops != out[j].Hops {
			return out[i].Hops < out[j].Hops
		}

		return out[i].Entity.Name < out[j].Entity.Name
	})

	return out, nil
}
