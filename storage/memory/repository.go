package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerline/oauth-core/storage"
)

// Repository is an in-memory implementation of storage.Repository. It backs
// development and test setups where no relational database is wired in.
type Repository struct {
	mu sync.RWMutex

	byID       map[string]*storage.Application
	byClientID map[string]string // client ID -> application ID
	bySlug     map[string]string // slug -> application ID

	history []*storage.Token
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		byID:       make(map[string]*storage.Application),
		byClientID: make(map[string]string),
		bySlug:     make(map[string]string),
	}
}

// GetApplicationByID retrieves an application by internal ID.
func (r *Repository) GetApplicationByID(ctx context.Context, id string) (*storage.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrApplicationNotFound, id)
	}

	cp := *app
	return &cp, nil
}

// GetApplicationByClientID retrieves an application by OAuth client ID.
func (r *Repository) GetApplicationByClientID(ctx context.Context, clientID string) (*storage.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byClientID[clientID]
	if !ok {
		return nil, storage.ErrApplicationNotFound
	}

	cp := *r.byID[id]
	return &cp, nil
}

// GetApplicationBySlug retrieves an application by slug.
func (r *Repository) GetApplicationBySlug(ctx context.Context, slug string) (*storage.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySlug[slug]
	if !ok {
		return nil, storage.ErrApplicationNotFound
	}

	cp := *r.byID[id]
	return &cp, nil
}

// CreateApplication stores a new application record. The slug and client ID
// must be unused.
func (r *Repository) CreateApplication(ctx context.Context, app *storage.Application) error {
	if app == nil || app.ID == "" || app.ClientID == "" {
		return fmt.Errorf("invalid application")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[app.ID]; exists {
		return fmt.Errorf("application %s already exists", app.ID)
	}
	if _, exists := r.bySlug[app.Slug]; exists {
		return fmt.Errorf("slug %q already taken", app.Slug)
	}
	if _, exists := r.byClientID[app.ClientID]; exists {
		return fmt.Errorf("client ID collision")
	}

	cp := *app
	r.byID[app.ID] = &cp
	r.byClientID[app.ClientID] = app.ID
	r.bySlug[app.Slug] = app.ID
	return nil
}

// ReplaceApplication overwrites an existing record in place, keeping its
// slug and client ID indexed. Useful for flipping Active or Status in dev
// setups.
func (r *Repository) ReplaceApplication(app *storage.Application) {
	if app == nil || app.ID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *app
	r.byID[app.ID] = &cp
	r.byClientID[app.ClientID] = app.ID
	r.bySlug[app.Slug] = app.ID
}

// UpdateApplicationSecret replaces the stored secret hash.
func (r *Repository) UpdateApplicationSecret(ctx context.Context, id, secretHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrApplicationNotFound, id)
	}

	app.ClientSecretHash = secretHash
	app.UpdatedAt = time.Now()
	return nil
}

// RecordToken appends a token issuance record to the history log.
func (r *Repository) RecordToken(ctx context.Context, token *storage.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *token
	r.history = append(r.history, &cp)
	return nil
}

// TokenHistory returns a snapshot of recorded token issuances, oldest first.
func (r *Repository) TokenHistory() []*storage.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*storage.Token, len(r.history))
	copy(out, r.history)
	return out
}
