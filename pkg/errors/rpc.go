package errors

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

/*
RpcError is the error body returned by the HTTP and MCP surfaces.
*/
type RpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for RpcError.
*/
func (e *RpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// JSON-RPC reserved codes, then memory specific codes in -32000..-32099.
var (
	ErrParseError     = &RpcError{Code: -32700, Message: "Parse error"}
	ErrInvalidRequest = &RpcError{Code: -32600, Message: "Invalid Request"}
	ErrInvalidParams  = &RpcError{Code: -32602, Message: "Invalid params"}
	ErrInternal       = &RpcError{Code: -32603, Message: "Internal error"}

	ErrMemoryNotFound     = &RpcError{Code: -32000, Message: "Memory not found"}
	ErrEmbeddingFailed    = &RpcError{Code: -32020, Message: "Embedding failed"}
	ErrStoreUnavailable   = &RpcError{Code: -32030, Message: "Storage unavailable"}
	ErrIngestFailed       = &RpcError{Code: -32040, Message: "Ingest failed"}
	ErrExportNotAvailable = &RpcError{Code: -32050, Message: "Export target not configured"}
)

// WithMessagef creates a *copy* of an RpcError with a formatted message.
// It does not modify the original error variable.
func (e *RpcError) WithMessagef(format string, args ...any) *RpcError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

/*
ToRpc maps the memory error taxonomy onto an RpcError.
*/
func ToRpc(err error) *RpcError {
	var (
		rpc       *RpcError
		ingest    *IngestError
		embedding *EmbeddingError
	)

	switch {
	case err == nil:
		return nil
	case As(err, &rpc):
		return rpc
	case Is(err, ErrNotFound):
		return ErrMemoryNotFound.WithMessagef("%v", err)
	case As(err, &embedding):
		return ErrEmbeddingFailed.WithMessagef("%v", err)
	case As(err, &ingest) && ingest.Stage == StageValidate:
		return ErrInvalidParams.WithMessagef("%v", err)
	case IsUnavailable(err):
		return ErrStoreUnavailable.WithMessagef("%v", err)
	case As(err, &ingest):
		return ErrIngestFailed.WithMessagef("%v", err)
	}

	return ErrInternal.WithMessagef("%v", err)
}

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

/*
Retry runs fn until it succeeds, the attempts run out, or ctx is done.
Only StorageUnavailable failures are retried; anything else is returned
as soon as it happens.
*/
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = config.InitialDelay
	policy.MaxInterval = config.MaxDelay
	policy.Multiplier = config.BackoffFactor
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := fn()

		if err != nil && !IsUnavailable(err) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(config.MaxAttempts-1)), ctx,
	))
}
