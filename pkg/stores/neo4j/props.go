package neo4j

import (
	"time"

	"github.com/theapemachine/nire/pkg/memory"
)

// Timestamps are stored as epoch milliseconds so Cypher can compare them.

func toEntity(props map[string]any) memory.Entity {
	return memory.Entity{
		Name:           asString(props["name"]),
		Display:        asString(props["display"]),
		Type:           memory.EntityType(asString(props["type"])),
		FirstSeen:      asTime(props["first_seen"]),
		LastReferenced: asTime(props["last_referenced"]),
		Mentions:       int(asInt(props["mentions"])),
	}
}

func toMemory(props map[string]any) memory.MemoryItem {
	item := memory.MemoryItem{
		ID:         asString(props["id"]),
		Text:       asString(props["text"]),
		Timestamp:  asTime(props["timestamp"]),
		Importance: asFloat(props["importance"]),
		Category:   asString(props["category"]),
		SessionID:  asString(props["session_id"]),
		Role:       asString(props["role"]),
	}

	if entities := toStrings(props["entities"]); len(entities) > 0 {
		item.Entities = entities
	}

	return item
}

func toStrings(value any) []string {
	switch list := value.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))

		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}

		return out
	}

	return nil
}

func stringsOrEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}

func asString(value any) string {
	s, _ := value.(string)
	return s
}

func asInt(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}

	return 0
}

func asFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}

	return 0
}

func asTime(value any) time.Time {
	ms := asInt(value)

	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}
