package memory

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

/*
Canonicalizer maps surface forms of entity names to the single name used as
the graph key. Every graph upsert and seed lookup goes through it, so two
spellings that fold to the same key are the same entity.
*/
type Canonicalizer struct {
	aliases map[string]string
}

/*
NewCanonicalizer builds a canonicalizer. Alias keys and values are
normalized themselves, so "NYC: New York City" works regardless of case.
*/
func NewCanonicalizer(aliases map[string]string) *Canonicalizer {
	canon := &Canonicalizer{aliases: make(map[string]string, len(aliases))}

	for from, to := range aliases {
		key := fold(from)
		value := fold(to)

		if key == "" || value == "" || key == value {
			continue
		}

		canon.aliases[key] = value
	}

	return canon
}

/*
Name returns the canonical form of raw, or "" when nothing is left after
normalization.
*/
func (canon *Canonicalizer) Name(raw string) string {
	name := fold(raw)

	if alias, ok := canon.aliases[name]; ok {
		return alias
	}

	return name
}

/*
Names canonicalizes and deduplicates, keeping first-seen order.
*/
func (canon *Canonicalizer) Names(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))

	for _, r := range raw {
		name := canon.Name(r)

		if name == "" {
			continue
		}

		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		out = append(out, name)
	}

	return out
}

/*
Entities canonicalizes names and merges entities that collapse onto the
same name.
*/
func (canon *Canonicalizer) Entities(entities []Entity) []Entity {
	index := make(map[string]int, len(entities))
	out := make([]Entity, 0, len(entities))

	for _, entity := range entities {
		name := canon.Name(entity.Name)

		if name == "" {
			continue
		}

		if entity.Display == "" {
			entity.Display = strings.TrimSpace(entity.Name)
		}

		entity.Name = name

		if i, ok := index[name]; ok {
			out[i] = mergeEntity(out[i], entity)
			continue
		}

		index[name] = len(out)
		out = append(out, entity)
	}

	return out
}

/*
Relations canonicalizes endpoints, drops self-loops and empty endpoints, and
merges duplicates of the same (source, type, target) keeping the highest
confidence and the union of supporting memories.
*/
func (canon *Canonicalizer) Relations(relations []Relation) []Relation {
	type key struct{ source, kind, target string }

	index := make(map[key]int, len(relations))
	out := make([]Relation, 0, len(relations))

	for _, relation := range relations {
		relation.Source = canon.Name(relation.Source)
		relation.Target = canon.Name(relation.Target)
		relation.Type = strings.ToLower(strings.TrimSpace(relation.Type))

		if relation.Source == "" || relation.Target == "" || relation.Type == "" {
			continue
		}

		if relation.Source == relation.Target {
			continue
		}

		k := key{relation.Source, relation.Type, relation.Target}

		if i, ok := index[k]; ok {
			if relation.Confidence > out[i].Confidence {
				out[i].Confidence = relation.Confidence
			}

			out[i].MemoryIDs = union(out[i].MemoryIDs, relation.MemoryIDs)
			continue
		}

		relation.MemoryIDs = union(nil, relation.MemoryIDs)
		index[k] = len(out)
		out = append(out, relation)
	}

	return out
}

func fold(raw string) string {
	name := norm.NFKC.String(raw)
	name = cases.Fold().String(name)
	name = strings.TrimFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})

	return strings.Join(strings.Fields(name), " ")
}

func mergeEntity(into, from Entity) Entity {
	if into.Type == "" {
		into.Type = from.Type
	}

	if into.Display == "" {
		into.Display = from.Display
	}

	if into.FirstSeen.IsZero() || (!from.FirstSeen.IsZero() && from.FirstSeen.Before(into.FirstSeen)) {
		into.FirstSeen = from.FirstSeen
	}

	if from.LastReferenced.After(into.LastReferenced) {
		into.LastReferenced = from.LastReferenced
	}

	into.Mentions += from.Mentions

	return into
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok || v == "" {
				continue
			}

			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	sort.Strings(out)

	return out
}
