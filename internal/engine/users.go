package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"constellation/internal/domain"
	"constellation/internal/engine/auth"
	"constellation/internal/repo"
)

type SignupOptions struct {
	Email          string
	Name           string
	OrganizationID string
}

// Signup registers a user. Emails are unique case-insensitively. Callers
// must only pass OrganizationID on operator paths.
func (e Engine) Signup(ctx context.Context, opts SignupOptions) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" {
		return domain.User{}, invalidf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, invalidf("email %q is not valid", opts.Email)
	}
	u := domain.User{
		ID:             uuid.NewString(),
		Email:          email,
		Name:           strings.TrimSpace(opts.Name),
		OrganizationID: strings.TrimSpace(opts.OrganizationID),
		CreatedAt:      e.timestamp(),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// AssignOrganization moves the user with the given email into orgID, or out
// of any organization when orgID is empty. It is an operator action with no
// caller identity and is not exposed over HTTP.
func (e Engine) AssignOrganization(ctx context.Context, email, orgID string) (domain.User, error) {
	u, err := e.Login(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	orgID = strings.TrimSpace(orgID)
	if err := e.Repo.SetUserOrganization(ctx, u.ID, orgID); err != nil {
		return domain.User{}, err
	}
	u.OrganizationID = orgID
	return u, nil
}

// Login resolves a user by email.
func (e Engine) Login(ctx context.Context, email string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, invalidf("email is required")
	}
	return e.Repo.GetUserByEmail(ctx, email)
}

func (e Engine) Me(ctx context.Context, who auth.Identity) (domain.User, error) {
	if err := auth.Require(who); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, who.UserID)
}

// IdentityFor returns the engine identity of a stored user.
func IdentityFor(u domain.User) auth.Identity {
	return auth.Identity{UserID: u.ID, OrganizationID: u.OrganizationID}
}

// CreateAPIKey stores a new key for who and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, who auth.Identity, name string) (domain.APIKey, string, error) {
	if err := auth.Require(who); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "cst_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    who.UserID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, who auth.Identity) ([]domain.APIKey, error) {
	if err := auth.Require(who); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, who.UserID)
}

// DeleteAPIKey removes one of who's keys and returns its hash.
func (e Engine) DeleteAPIKey(ctx context.Context, who auth.Identity, id string) (string, error) {
	if err := auth.Require(who); err != nil {
		return "", err
	}
	return e.Repo.DeleteAPIKey(ctx, who.UserID, id)
}

// ResolveAPIKey maps a plaintext key to its user.
func (e Engine) ResolveAPIKey(ctx context.Context, secret string) (domain.User, error) {
	if strings.TrimSpace(secret) == "" {
		return domain.User{}, invalidf("api key is required")
	}
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, key.UserID)
}

// TaskEvents returns the newest events of a task owned by who.
func (e Engine) TaskEvents(ctx context.Context, who auth.Identity, taskID string, beforeID int64, limit int) ([]domain.Event, error) {
	if _, err := e.GetTask(ctx, who, taskID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.TaskEvents(ctx, taskID, beforeID, limit)
}
