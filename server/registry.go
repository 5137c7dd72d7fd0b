package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/ledgerline/oauth-core/instrumentation"
	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/storage"
)

// maxSlugAttempts bounds slug collision suffixing before falling back to a
// random suffix.
const maxSlugAttempts = 10

// dummyBcryptHash is compared against when a client does not exist, so a
// credential check always costs one bcrypt verification regardless of
// whether the client id was valid. (bcrypt hash of "test")
const dummyBcryptHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// CreateApplicationInput is the registration request for a new OAuth
// application.
type CreateApplicationInput struct {
	Name        string
	Description string
	LogoURL     string
	WebsiteURL  string
	Screenshots []string

	RedirectURIs []string
	Scopes       []string

	// Public marks a client that cannot hold a secret.
	Public bool

	TeamID    string
	CreatedBy string
}

// CreateApplicationResult carries the created record and, for confidential
// clients, the plaintext secret. The secret appears here exactly once; only
// its bcrypt hash is persisted.
type CreateApplicationResult struct {
	Application *storage.Application

	// ClientSecret is empty for public clients.
	ClientSecret string
}

// Requester identifies the caller of a privileged registry operation.
type Requester struct {
	UserID  string
	TeamIDs []string
}

// memberOf reports whether the requester belongs to teamID.
func (r Requester) memberOf(teamID string) bool {
	for _, id := range r.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// CreateApplication validates the input, generates client credentials, and
// persists the application. Returns a *ValidationError on malformed input.
func (s *Server) CreateApplication(ctx context.Context, in CreateApplicationInput) (*CreateApplicationResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, NewValidationError("name", "name is required")
	}
	if err := validateRedirectURIs(in.RedirectURIs); err != nil {
		return nil, err
	}
	if len(in.Screenshots) > maxScreenshots {
		return nil, NewValidationError("screenshots", fmt.Sprintf("at most %d screenshots allowed", maxScreenshots))
	}
	if in.TeamID == "" {
		return nil, NewValidationError("team_id", "owning team is required")
	}

	clientID, err := newClientID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}

	var plaintextSecret, secretHash string
	if !in.Public {
		plaintextSecret = oauth2.GenerateVerifier()
		hash, err := bcrypt.GenerateFromPassword([]byte(plaintextSecret), s.cfg.Security.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretHash = string(hash)
	}

	slug, err := s.uniqueSlug(ctx, in.Name)
	if err != nil {
		return nil, err
	}

	created := now()
	app := &storage.Application{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(in.Name),
		Slug:             slug,
		Description:      in.Description,
		LogoURL:          in.LogoURL,
		WebsiteURL:       in.WebsiteURL,
		Screenshots:      in.Screenshots,
		RedirectURIs:     in.RedirectURIs,
		Scopes:           in.Scopes,
		Public:           in.Public,
		Active:           true,
		Status:           storage.StatusPending,
		TeamID:           in.TeamID,
		CreatedBy:        in.CreatedBy,
		ClientID:         clientID,
		ClientSecretHash: secretHash,
		CreatedAt:        created,
		UpdatedAt:        created,
	}

	if err := s.repo.CreateApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	if s.metrics != nil {
		instrumentation.RecordResult(ctx, s.metrics.ApplicationCreated, nil)
	}
	s.logger.Info("Registered application",
		"application_id", app.ID,
		"client_id", app.ClientID,
		"slug", app.Slug,
		"public", app.Public)

	return &CreateApplicationResult{
		Application:  app,
		ClientSecret: plaintextSecret,
	}, nil
}

// RegenerateClientSecret rotates a confidential application's secret. The
// requester must belong to the owning team. The previous secret stops
// working the moment this returns; the new plaintext is returned exactly
// once.
func (s *Server) RegenerateClientSecret(ctx context.Context, applicationID string, requester Requester) (string, error) {
	app, err := s.repo.GetApplicationByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return "", ErrAuthenticationFailed
		}
		return "", fmt.Errorf("failed to load application: %w", err)
	}

	if !requester.memberOf(app.TeamID) {
		s.audit.Record(security.Event{
			Type:     security.EventEscalationAttempt,
			Severity: security.SeverityHigh,
			UserID:   requester.UserID,
			ClientID: app.ClientID,
			Details:  map[string]any{"operation": "regenerate_client_secret"},
		})
		return "", ErrAuthenticationFailed
	}

	if app.Public {
		return "", NewValidationError("application", "public clients have no secret")
	}

	plaintextSecret := oauth2.GenerateVerifier()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextSecret), s.cfg.Security.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	if err := s.repo.UpdateApplicationSecret(ctx, app.ID, string(hash)); err != nil {
		return "", fmt.Errorf("failed to update client secret: %w", err)
	}

	// The cached record still carries the old hash; drop it so the next
	// credential check reads the rotated one.
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.store.InvalidateApplication(opCtx, app.ClientID); err != nil {
		s.logger.Warn("Failed to invalidate cached application after rotation",
			"client_id", app.ClientID,
			"error", err)
	}

	if s.metrics != nil {
		instrumentation.RecordResult(ctx, s.metrics.SecretRotated, nil)
	}
	s.logger.Info("Rotated client secret",
		"application_id", app.ID,
		"client_id", app.ClientID,
		"requested_by", requester.UserID)

	return plaintextSecret, nil
}

// ValidateClientCredentials authenticates a client. Public clients must not
// present a secret; confidential clients are verified against the stored
// bcrypt hash. A bcrypt comparison runs on every call, including for unknown
// client ids, so timing does not reveal whether the id exists. All failures
// return the same ErrAuthenticationFailed.
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) (*storage.Application, error) {
	app, lookupErr := s.getApplication(ctx, clientID)

	hashToCompare := dummyBcryptHash
	if lookupErr == nil && !app.Public && app.ClientSecretHash != "" {
		hashToCompare = app.ClientSecretHash
	}

	// Always pay the bcrypt cost before branching on the lookup result.
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if lookupErr != nil {
		return nil, ErrAuthenticationFailed
	}
	if !app.Active || app.Status != storage.StatusApproved {
		return nil, ErrAuthenticationFailed
	}

	if app.Public {
		if clientSecret != "" {
			// A secret presented for a public client is a configuration
			// error at best and credential stuffing at worst.
			s.audit.Record(security.Event{
				Type:     security.EventSuspiciousPattern,
				Severity: security.SeverityMedium,
				ClientID: clientID,
				Details:  map[string]any{"pattern": "secret_presented_by_public_client"},
			})
			return nil, ErrAuthenticationFailed
		}
		return app, nil
	}

	if bcryptErr != nil {
		s.audit.LogTokenExchangeFailure("", clientID, "", "client_credential_mismatch", true)
		return nil, ErrAuthenticationFailed
	}

	return app, nil
}

// uniqueSlug derives a slug from name, suffixing -2, -3, … on collision and
// falling back to a random suffix when the namespace is crowded.
func (s *Server) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	if base == "" {
		base = "app"
	}

	candidate := base
	for attempt := 2; attempt <= maxSlugAttempts; attempt++ {
		_, err := s.repo.GetApplicationBySlug(ctx, candidate)
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check slug availability: %w", err)
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate slug suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(suffix)), nil
}

// newClientID generates a random client identifier.
func newClientID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "client_" + hex.EncodeToString(raw), nil
}
