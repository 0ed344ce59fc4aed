/*
Package neo4j is the Neo4j graph store. Entities are (:Entity {name}) nodes,
relations are [:RELATES {type}] edges between them, and each memory is a
(:Memory {id}) node with [:MENTIONS] edges to its entities. The driver owns
the connection pool; every call borrows one session and closes it on return.
*/
package neo4j

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/neo4j/neo4j-go-driver/v6/neo4j"
	"github.com/neo4j/neo4j-go-driver/v6/neo4j/config"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

const storeName = "neo4j"

var ErrUnknownEntity = errors.New("relation endpoint is not a known entity")

var schema = []string{
	`CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
	`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`,
	`CREATE INDEX memory_timestamp IF NOT EXISTS FOR (m:Memory) ON (m.timestamp)`,
}

/*
Store implements memory.GraphStore on a Neo4j driver.
*/
type Store struct {
	driver   neo4j.Driver
	database string

	mu    sync.Mutex
	ready bool
}

/*
Open builds the driver and tries to create the schema. A server that is not
up yet does not fail Open: the store comes up degraded, every call reports
StorageUnavailable, and the schema is created on the first call that gets
through. Only an unusable URI is an error.
*/
func Open(ctx context.Context, uri, user, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(user, password, ""), func(c *config.Config) {
		c.MaxTransactionRetryTime = 2 * time.Second
		c.SocketConnectTimeout = 5 * time.Second
	})

	if err != nil {
		return nil, errors.Unavailable(storeName, "open", err)
	}

	store := &Store{driver: driver, database: database}

	if err := store.ensureSchema(ctx); err != nil {
		log.Warn("neo4j not reachable, starting degraded", "uri", uri, "error", err)
	}

	return store, nil
}

func (store *Store) ensureSchema(ctx context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.ready {
		return nil
	}

	if err := store.driver.VerifyConnectivity(ctx); err != nil {
		return errors.Unavailable(storeName, "schema", err)
	}

	session := store.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: store.database,
	})
	defer session.Close(ctx)

	for _, statement := range schema {
		if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, statement, nil)
			return nil, err
		}); err != nil {
			return errors.Unavailable(storeName, "schema", err)
		}
	}

	store.ready = true

	return nil
}

/*
UpsertEntities merges entity bookkeeping. Mentions are counted by LinkMemory,
not taken from the input.
*/
func (store *Store) UpsertEntities(ctx context.Context, entities []memory.Entity) error {
	rows := make([]map[string]any, 0, len(entities))

	for _, entity := range entities {
		rows = append(rows, map[string]any{
			"name":            entity.Name,
			"display":         entity.Display,
			"type":            string(entity.Type),
			"first_seen":      entity.FirstSeen.UnixMilli(),
			"last_referenced": entity.LastReferenced.UnixMilli(),
		})
	}

	return store.write(ctx, "upsert entities", func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			UNWIND $entities AS e
			MERGE (n:Entity {name: e.name})
			ON CREATE SET n.display = e.display,
				n.type = e.type,
				n.first_seen = e.first_seen,
				n.last_referenced = e.last_referenced,
				n.mentions = 0
			SET n.first_seen = CASE WHEN e.first_seen < n.first_seen THEN e.first_seen ELSE n.first_seen END,
				n.last_referenced = CASE WHEN e.last_referenced > n.last_referenced THEN e.last_referenced ELSE n.last_referenced END,
				n.type = coalesce(n.type, e.type)
		`, map[string]any{"entities": rows})

		return nil, err
	})
}

/*
UpsertRelations writes all relations in one transaction and rolls it back if
any endpoint is missing, so the batch lands entirely or not at all.
*/
func (store *Store) UpsertRelations(ctx context.Context, relations []memory.Relation) error {
	rows := make([]map[string]any, 0, len(relations))

	for _, relation := range relations {
		rows = append(rows, map[string]any{
			"source":     relation.Source,
			"target":     relation.Target,
			"type":       relation.Type,
			"confidence": relation.Confidence,
			"memory_ids": relation.MemoryIDs,
		})
	}

	return store.write(ctx, "upsert relations", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			UNWIND $relations AS rel
			MATCH (s:Entity {name: rel.source})
			MATCH (t:Entity {name: rel.target})
			MERGE (s)-[r:RELATES {type: rel.type}]->(t)
			ON CREATE SET r.confidence = rel.confidence, r.memory_ids = rel.memory_ids
			ON MATCH SET r.confidence = CASE WHEN rel.confidence > r.confidence THEN rel.confidence ELSE r.confidence END,
				r.memory_ids = r.memory_ids + [id IN rel.memory_ids WHERE NOT id IN r.memory_ids]
			RETURN count(r) AS written
		`, map[string]any{"relations": rows})

		if err != nil {
			return nil, err
		}

		record, err := res.Single(ctx)

		if err != nil {
			return nil, err
		}

		written, _ := record.Get("written")

		if count, _ := written.(int64); int(count) != len(rows) {
			return nil, fmt.Errorf("%w: wrote %d of %d relations", ErrUnknownEntity, count, len(rows))
		}

		return nil, nil
	})
}

/*
LinkMemory bumps an entity's mention count only when its MENTIONS edge is
new, so replaying a sync leaves counts alone.
*/
func (store *Store) LinkMemory(ctx context.Context, item memory.MemoryItem) error {
	return store.write(ctx, "link memory", func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (m:Memory {id: $id})
			SET m.text = $text,
				m.timestamp = $timestamp,
				m.importance = $importance,
				m.category = $category,
				m.session_id = $session_id,
				m.role = $role,
				m.entities = $entities
			WITH m
			UNWIND $entities AS name
			MATCH (e:Entity {name: name})
			MERGE (m)-[:MENTIONS]->(e)
			ON CREATE SET e.mentions = coalesce(e.mentions, 0) + 1
		`, map[string]any{
			"id":         item.ID,
			"text":       item.Text,
			"timestamp":  item.Timestamp.UnixMilli(),
			"importance": item.Importance,
			"category":   item.Category,
			"session_id": item.SessionID,
			"role":       item.Role,
			"entities":   stringsOrEmpty(item.Entities),
		})

		return nil, err
	})
}

/*
Traverse expands one hop per query inside a single read transaction,
excluding entities already reached, so the work per hop stays proportional
to the frontier rather than to the number of paths.
*/
func (store *Store) Traverse(ctx context.Context, seeds []string, maxHops int) ([]memory.EntityHit, error) {
	if len(seeds) == 0 {
		return nil, nil
	}

	result, err := store.read(ctx, "traverse", func(tx neo4j.ManagedTransaction) (any, error) {
		found, err := readEntities(ctx, tx, `
			MATCH (e:Entity) WHERE e.name IN $seeds
			RETURN e
		`, map[string]any{"seeds": seeds})

		if err != nil {
			return nil, err
		}

		return walk(found, maxHops, func(frontier, visited []string) ([]memory.Entity, error) {
			return readEntities(ctx, tx, `
				MATCH (s:Entity)-[:RELATES]-(e:Entity)
				WHERE s.name IN $frontier AND NOT e.name IN $visited
				RETURN DISTINCT e
			`, map[string]any{"frontier": frontier, "visited": visited})
		})
	})

	if err != nil {
		return nil, err
	}

	return result.([]memory.EntityHit), nil
}

func readEntities(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]memory.Entity, error) {
	res, err := tx.Run(ctx, cypher, params)

	if err != nil {
		return nil, err
	}

	var out []memory.Entity

	for res.Next(ctx) {
		node, _ := res.Record().Get("e")
		out = append(out, toEntity(node.(neo4j.Node).Props))
	}

	return out, res.Err()
}

func (store *Store) Supporting(ctx context.Context, hits []memory.EntityHit, limit int) ([]memory.GraphHit, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	if limit <= 0 {
		limit = 100
	}

	rows := make([]map[string]any, 0, len(hits))

	for _, hit := range hits {
		rows = append(rows, map[string]any{"name": hit.Entity.Name, "hops": int64(hit.Hops)})
	}

	result, err := store.read(ctx, "supporting", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			UNWIND $hits AS hit
			MATCH (m:Memory)-[:MENTIONS]->(e:Entity {name: hit.name})
			WITH m, min(hit.hops) AS hops, collect(DISTINCT e.name) AS entities
			RETURN m, hops, entities
			ORDER BY hops ASC, m.timestamp DESC, m.id DESC
			LIMIT $limit
		`, map[string]any{"hits": rows, "limit": int64(limit)})

		if err != nil {
			return nil, err
		}

		var out []memory.GraphHit

		for res.Next(ctx) {
			record := res.Record()
			node, _ := record.Get("m")
			hops, _ := record.Get("hops")
			entities, _ := record.Get("entities")

			names := toStrings(entities)
			sort.Strings(names)

			out = append(out, memory.GraphHit{
				Item:     toMemory(node.(neo4j.Node).Props),
				Hops:     int(hops.(int64)),
				Entities: names,
			})
		}

		return out, res.Err()
	})

	if err != nil {
		return nil, err
	}

	return result.([]memory.GraphHit), nil
}

func (store *Store) Memories(ctx context.Context, before time.Time) ([]memory.MemoryItem, error) {
	return store.memories(ctx, `
		MATCH (m:Memory) WHERE m.timestamp < $before
		RETURN m ORDER BY m.id
	`, map[string]any{"before": before.UnixMilli()})
}

func (store *Store) DeleteMemories(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	return store.write(ctx, "delete memories", func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MATCH (m:Memory) WHERE m.id IN $ids DETACH DELETE m`, map[string]any{"ids": ids})
		return nil, err
	})
}

func (store *Store) Snapshot(ctx context.Context) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{TakenAt: time.Now().UTC()}

	result, err := store.read(ctx, "snapshot", func(tx neo4j.ManagedTransaction) (any, error) {
		entities, err := tx.Run(ctx, `MATCH (e:Entity) RETURN e ORDER BY e.name`, nil)

		if err != nil {
			return nil, err
		}

		for entities.Next(ctx) {
			node, _ := entities.Record().Get("e")
			snapshot.Entities = append(snapshot.Entities, toEntity(node.(neo4j.Node).Props))
		}

		if err := entities.Err(); err != nil {
			return nil, err
		}

		relations, err := tx.Run(ctx, `
			MATCH (s:Entity)-[r:RELATES]->(t:Entity)
			RETURN s.name AS source, t.name AS target, r.type AS type, r.confidence AS confidence, r.memory_ids AS memory_ids
			ORDER BY source, type, target
		`, nil)

		if err != nil {
			return nil, err
		}

		for relations.Next(ctx) {
			record := relations.Record()
			source, _ := record.Get("source")
			target, _ := record.Get("target")
			kind, _ := record.Get("type")
			confidence, _ := record.Get("confidence")
			ids, _ := record.Get("memory_ids")

			snapshot.Relations = append(snapshot.Relations, memory.Relation{
				Source:     asString(source),
				Target:     asString(target),
				Type:       asString(kind),
				Confidence: asFloat(confidence),
				MemoryIDs:  toStrings(ids),
			})
		}

		return snapshot, relations.Err()
	})

	if err != nil {
		return memory.Snapshot{}, err
	}

	snapshot = result.(memory.Snapshot)

	if snapshot.Memories, err = store.memories(ctx, `MATCH (m:Memory) RETURN m ORDER BY m.id`, nil); err != nil {
		return memory.Snapshot{}, err
	}

	return snapshot, nil
}

func (store *Store) Stats(ctx context.Context) (memory.GraphStats, error) {
	result, err := store.read(ctx, "stats", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			CALL { MATCH (e:Entity) RETURN count(e) AS entities }
			CALL { MATCH ()-[r:RELATES]->() RETURN count(r) AS relations }
			CALL { MATCH (m:Memory) RETURN count(m) AS memories }
			RETURN entities, relations, memories
		`, nil)

		if err != nil {
			return nil, err
		}

		record, err := res.Single(ctx)

		if err != nil {
			return nil, err
		}

		entities, _ := record.Get("entities")
		relations, _ := record.Get("relations")
		memories, _ := record.Get("memories")

		return memory.GraphStats{
			Entities:  int(entities.(int64)),
			Relations: int(relations.(int64)),
			Memories:  int(memories.(int64)),
		}, nil
	})

	if err != nil {
		return memory.GraphStats{}, err
	}

	return result.(memory.GraphStats), nil
}

func (store *Store) Ping(ctx context.Context) error {
	if err := store.driver.VerifyConnectivity(ctx); err != nil {
		return errors.Unavailable(storeName, "ping", err)
	}

	return nil
}

func (store *Store) Close(ctx context.Context) error {
	return store.driver.Close(ctx)
}

func (store *Store) memories(ctx context.Context, cypher string, params map[string]any) ([]memory.MemoryItem, error) {
	result, err := store.read(ctx, "memories", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)

		if err != nil {
			return nil, err
		}

		var out []memory.MemoryItem

		for res.Next(ctx) {
			node, _ := res.Record().Get("m")
			out = append(out, toMemory(node.(neo4j.Node).Props))
		}

		return out, res.Err()
	})

	if err != nil {
		return nil, err
	}

	return result.([]memory.MemoryItem), nil
}

func (store *Store) write(ctx context.Context, op string, work func(neo4j.ManagedTransaction) (any, error)) error {
	if err := store.ensureSchema(ctx); err != nil {
		return err
	}

	session := store.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: store.database,
	})
	defer session.Close(ctx)

	if _, err := session.ExecuteWrite(ctx, work); err != nil {
		if errors.Is(err, ErrUnknownEntity) {
			return err
		}

		log.Error("neo4j write failed", "op", op, "error", err)
		return errors.Unavailable(storeName, op, err)
	}

	return nil
}

func (store *Store) read(ctx context.Context, op string, work func(neo4j.ManagedTransaction) (any, error)) (any, error) {
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}

	session := store.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: store.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, work)

	if err != nil {
		return nil, errors.Unavailable(storeName, op, err)
	}

	return result, nil
}
