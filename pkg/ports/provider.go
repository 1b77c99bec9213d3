package ports

import (
	"context"
	"iter"
)

// GenerateRequest is the provider-agnostic input for one streamed generation.
type GenerateRequest struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

// Provider is one independent content-generation backend. The engine queries
// a fixed set of providers concurrently and treats each one's wire protocol
// as its own concern; only chunk/error/done signals cross this boundary.
type Provider interface {
	// Name identifies the provider in events and metrics.
	Name() string

	// Generate opens a streaming generation and returns an iterator of raw
	// text chunks. Chunks are fragments, not lines: callers reassemble and
	// split them. Pre-stream errors (auth, connect) are returned directly;
	// mid-stream errors are yielded through the iterator. The iterator ends
	// when the provider signals completion or ctx is canceled.
	Generate(ctx context.Context, req GenerateRequest) (iter.Seq2[string, error], error)
}
