package storage

import "context"

// Repository is the durable relational store that owns application records
// and long-term token history. The core treats it as an external
// collaborator: the cache accelerates reads, but a cache miss for application
// metadata falls back here, and the system remains correct if the repository
// is the sole source of truth.
//
// One-time artifacts (authorization codes, transient state) never touch the
// repository; their 10-minute TTLs make the cache sufficient.
type Repository interface {
	GetApplicationByID(ctx context.Context, id string) (*Application, error)
	GetApplicationByClientID(ctx context.Context, clientID string) (*Application, error)
	GetApplicationBySlug(ctx context.Context, slug string) (*Application, error)
	CreateApplication(ctx context.Context, app *Application) error

	// UpdateApplicationSecret replaces the stored secret hash. The previous
	// secret is invalid the moment this returns.
	UpdateApplicationSecret(ctx context.Context, id, secretHash string) error

	// RecordToken appends a token issuance record for long-term audit and
	// billing history. Best-effort from the server's perspective: issuance
	// does not fail if history cannot be written.
	RecordToken(ctx context.Context, token *Token) error
}
