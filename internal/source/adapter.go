package source

import "context"

// Adapter is the uniform search contract for an external data source.
// Concrete implementations live in separate packages (e.g. modules/source/jira)
// and are responsible only for wire calls and shape normalization. Rate
// limiting, retries, and failure isolation are layered on by the orchestrator;
// adapters must not do their own.
type Adapter interface {
	// Search returns at most limit documents relevant to the query.
	// The context carries the per-source deadline; implementations must
	// abort in-flight requests when it is cancelled.
	Search(ctx context.Context, query string, limit int) ([]Document, error)

	// Healthy is a cheap readiness probe. The router skips adapters that
	// report false. It must not perform network I/O on the hot path.
	Healthy() bool

	// ID returns the adapter's source identifier.
	ID() ID
}
