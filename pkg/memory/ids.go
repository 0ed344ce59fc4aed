package memory

import (
	"fmt"

	"github.com/google/uuid"
)

/*
IDGenerator hands out memory IDs. UUIDv7 values are time-ordered and the
uuid package serializes their clock reads, so IDs from one process are
unique and strictly increasing, also in their string form.
*/
type IDGenerator struct {
	prefix string
}

func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

func (gen *IDGenerator) Next() (string, error) {
	id, err := uuid.NewV7()

	if err != nil {
		return "", fmt.Errorf("failed to generate memory id: %w", err)
	}

	return gen.prefix + id.String(), nil
}
