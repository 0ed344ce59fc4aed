/*
Package memgraph is an in-process graph store: entities, relations and the
memories that mention them, held in maps behind a RWMutex. It is the default
graph backend for local use and the reference the Neo4j store is tested
against.
*/
package memgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

var ErrUnknownEntity = errors.New("relation endpoint is not a known entity")

type relationKey struct {
	source, kind, target string
}

/*
Store implements memory.GraphStore.
*/
type Store struct {
	mu        sync.RWMutex
	entities  map[string]memory.Entity
	relations map[relationKey]memory.Relation
	adjacency map[string]map[string]struct{}
	memories  map[string]memory.MemoryItem
	mentions  map[string]map[string]struct{}
}

func New() *Store {
	return &Store{
		entities:  make(map[string]memory.Entity),
		relations: make(map[relationKey]memory.Relation),
		adjacency: make(map[string]map[string]struct{}),
		memories:  make(map[string]memory.MemoryItem),
		mentions:  make(map[string]map[string]struct{}),
	}
}

/*
UpsertEntities merges entity bookkeeping. Mentions are not taken from the
input; LinkMemory counts them once per distinct memory.
*/
func (store *Store) UpsertEntities(ctx context.Context, entities []memory.Entity) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, entity := range entities {
		if entity.Name == "" {
			continue
		}

		existing, ok := store.entities[entity.Name]

		if !ok {
			entity.Mentions = 0
			store.entities[entity.Name] = entity
			continue
		}

		if existing.Type == "" {
			existing.Type = entity.Type
		}

		if existing.Display == "" {
			existing.Display = entity.Display
		}

		if !entity.FirstSeen.IsZero() && entity.FirstSeen.Before(existing.FirstSeen) {
			existing.FirstSeen = entity.FirstSeen
		}

		if entity.LastReferenced.After(existing.LastReferenced) {
			existing.LastReferenced = entity.LastReferenced
		}

		store.entities[entity.Name] = existing
	}

	return nil
}

/*
UpsertRelations rejects the whole batch if any endpoint is unknown, so a
failed call leaves the graph untouched.
*/
func (store *Store) UpsertRelations(ctx context.Context, relations []memory.Relation) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, relation := range relations {
		for _, name := range []string{relation.Source, relation.Target} {
			if _, ok := store.entities[name]; !ok {
				return fmt.Errorf("%w: %q", ErrUnknownEntity, name)
			}
		}
	}

	for _, relation := range relations {
		key := relationKey{relation.Source, relation.Type, relation.Target}

		if existing, ok := store.relations[key]; ok {
			if relation.Confidence > existing.Confidence {
				existing.Confidence = relation.Confidence
			}

			existing.MemoryIDs = merge(existing.MemoryIDs, relation.MemoryIDs)
			store.relations[key] = existing
			continue
		}

		relation.MemoryIDs = merge(nil, relation.MemoryIDs)
		store.relations[key] = relation
		store.link(relation.Source, relation.Target)
		store.link(relation.Target, relation.Source)
	}

	return nil
}

func (store *Store) link(from, to string) {
	if store.adjacency[from] == nil {
		store.adjacency[from] = make(map[string]struct{})
	}

	store.adjacency[from][to] = struct{}{}
}

/*
LinkMemory records the memory (without its embedding) and a mention edge to
every entity it references that the graph knows. Only a new edge bumps the
entity's mention count, so replaying a sync leaves counts alone.
*/
func (store *Store) LinkMemory(ctx context.Context, item memory.MemoryItem) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	item.Embedding = nil
	item.GraphSyncPending = false
	store.memories[item.ID] = item

	for _, name := range item.Entities {
		if _, ok := store.entities[name]; !ok {
			continue
		}

		if store.mentions[name] == nil {
			store.mentions[name] = make(map[string]struct{})
		}

		if _, seen := store.mentions[name][item.ID]; seen {
			continue
		}

		store.mentions[name][item.ID] = struct{}{}

		entity := store.entities[name]
		entity.Mentions++
		store.entities[name] = entity
	}

	return nil
}

/*
Traverse walks relations in both directions, one frontier per hop. The
visited map records each entity at the first (shortest) hop it is reached
and is never revisited, which bounds the walk on cyclic graphs.
*/
func (store *Store) Traverse(ctx context.Context, seeds []string, maxHops int) ([]memory.EntityHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	visited := make(map[string]int)
	var frontier []string

	for _, seed := range seeds {
		if _, ok := store.entities[seed]; !ok {
			continue
		}

		if _, seen := visited[seed]; seen {
			continue
		}

		visited[seed] = 0
		frontier = append(frontier, seed)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string

		for _, name := range frontier {
			for _, neighbour := range sortedKeys(store.adjacency[name]) {
				if _, seen := visited[neighbour]; seen {
					continue
				}

				visited[neighbour] = hop
				next = append(next, neighbour)
			}
		}

		frontier = next
	}

	hits := make([]memory.EntityHit, 0, len(visited))

	for name, hops := range visited {
		hits = append(hits, memory.EntityHit{Entity: store.entities[name], Hops: hops})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Hops != hits[j].Hops {
			return hits[i].Hops < hits[j].Hops
		}

		return hits[i].Entity.Name < hits[j].Entity.Name
	})

	return hits, nil
}

func (store *Store) Supporting(ctx context.Context, hits []memory.EntityHit, limit int) ([]memory.GraphHit, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	best := make(map[string]*memory.GraphHit)

	for _, hit := range hits {
		for id := range store.mentions[hit.Entity.Name] {
			item, ok := store.memories[id]

			if !ok {
				continue
			}

			found, ok := best[id]

			if !ok {
				best[id] = &memory.GraphHit{Item: item, Hops: hit.Hops, Entities: []string{hit.Entity.Name}}
				continue
			}

			if hit.Hops < found.Hops {
				found.Hops = hit.Hops
			}

			found.Entities = append(found.Entities, hit.Entity.Name)
		}
	}

	out := make([]memory.GraphHit, 0, len(best))

	for _, hit := range best {
		sort.Strings(hit.Entities)
		out = append(out, *hit)
	}

	sortGraphHits(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (store *Store) Memories(ctx context.Context, before time.Time) ([]memory.MemoryItem, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var out []memory.MemoryItem

	for _, item := range store.memories {
		if item.Timestamp.Before(before) {
			out = append(out, item)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (store *Store) DeleteMemories(ctx context.Context, ids ...string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, id := range ids {
		item, ok := store.memories[id]

		if !ok {
			continue
		}

		for _, name := range item.Entities {
			delete(store.mentions[name], id)
		}

		delete(store.memories, id)
	}

	return nil
}

func (store *Store) Snapshot(ctx context.Context) (memory.Snapshot, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	snapshot := memory.Snapshot{
		TakenAt:   time.Now().UTC(),
		Entities:  make([]memory.Entity, 0, len(store.entities)),
		Relations: make([]memory.Relation, 0, len(store.relations)),
		Memories:  make([]memory.MemoryItem, 0, len(store.memories)),
	}

	for _, entity := range store.entities {
		snapshot.Entities = append(snapshot.Entities, entity)
	}

	for _, relation := range store.relations {
		snapshot.Relations = append(snapshot.Relations, relation)
	}

	for _, item := range store.memories {
		snapshot.Memories = append(snapshot.Memories, item)
	}

	sort.Slice(snapshot.Entities, func(i, j int) bool {
		return snapshot.Entities[i].Name < snapshot.Entities[j].Name
	})

	sort.Slice(snapshot.Relations, func(i, j int) bool {
		a, b := snapshot.Relations[i], snapshot.Relations[j]

		if a.Source != b.Source {
			return a.Source < b.Source
		}

		if a.Type != b.Type {
			return a.Type < b.Type
		}

		return a.Target < b.Target
	})

	sort.Slice(snapshot.Memories, func(i, j int) bool {
		return snapshot.Memories[i].ID < snapshot.Memories[j].ID
	})

	return snapshot, nil
}

func (store *Store) Stats(ctx context.Context) (memory.GraphStats, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return memory.GraphStats{
		Entities:  len(store.entities),
		Relations: len(store.relations),
		Memories:  len(store.memories),
	}, nil
}

func (store *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (store *Store) Close(ctx context.Context) error {
	return nil
}

func sortGraphHits(hits []memory.GraphHit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]

		if a.Hops != b.Hops {
			return a.Hops < b.Hops
		}

		if !a.Item.Timestamp.Equal(b.Item.Timestamp) {
			return a.Item.Timestamp.After(b.Item.Timestamp)
		}

		return a.Item.ID > b.Item.ID
	})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))

	for key := range set {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func merge(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))

	for _, v := range append(append([]string{}, a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	sort.Strings(out)

	return out
}
