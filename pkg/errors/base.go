package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

/*
Stage names the step of an ingest that failed.
*/
type Stage string

const (
	StageValidate Stage = "validate"
	StageExtract  Stage = "extract"
	StageEmbed    Stage = "embed"
	StageVector   Stage = "vector"
	StageGraph    Stage = "graph"
)

/*
StorageUnavailable is returned by store adapters when the backing store
cannot be reached. It is transient: callers retry with backoff and degrade
to whatever the other store can offer.
*/
type StorageUnavailable struct {
	Store string
	Op    string
	Err   error
}

func Unavailable(store, op string, err error) error {
	return &StorageUnavailable{Store: store, Op: op, Err: err}
}

func (err *StorageUnavailable) Error() string {
	return fmt.Sprintf("%s store unavailable during %s: %v", err.Store, err.Op, err.Err)
}

func (err *StorageUnavailable) Unwrap() error {
	return err.Err
}

/*
EmbeddingError is fatal for the turn being ingested; the turn is not stored.
*/
type EmbeddingError struct {
	Err error
}

func (err *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", err.Err)
}

func (err *EmbeddingError) Unwrap() error {
	return err.Err
}

/*
IngestError wraps whichever failure stopped an ingest, with the stage it
happened in and the item ID when one was already assigned, so the caller
can retry the turn.
*/
type IngestError struct {
	Stage  Stage
	ItemID string
	Err    error
}

func (err *IngestError) Error() string {
	builder := &strings.Builder{}
	builder.WriteString("ingest failed at ")
	builder.WriteString(string(err.Stage))

	if err.ItemID != "" {
		builder.WriteString(" for ")
		builder.WriteString(err.ItemID)
	}

	builder.WriteString(": ")
	builder.WriteString(err.Err.Error())

	return builder.String()
}

func (err *IngestError) Unwrap() error {
	return err.Err
}

/*
InconsistencyWarning marks an item whose graph write has not yet succeeded.
It is logged and reconciled, never returned to a user.
*/
type InconsistencyWarning struct {
	ItemID string
	Err    error
}

func (err *InconsistencyWarning) Error() string {
	return fmt.Sprintf("memory %s is graph_sync_pending: %v", err.ItemID, err.Err)
}

func (err *InconsistencyWarning) Unwrap() error {
	return err.Err
}

var (
	ErrEmptyTurn         = stderrors.New("turn has no text")
	ErrNotFound          = stderrors.New("memory not found")
	ErrMissingEmbedding  = stderrors.New("memory has no embedding")
	ErrDimensionMismatch = stderrors.New("embedding dimension mismatch")
)

func IsUnavailable(err error) bool {
	var unavailable *StorageUnavailable
	return stderrors.As(err, &unavailable)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func New(text string) error {
	return stderrors.New(text)
}

/*
Join collects the non-nil errors of a multi-store operation.
*/
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
