package auth

import (
	"errors"
	"fmt"
)

// Identity is the authenticated caller of an engine operation.
type Identity struct {
	UserID         string
	OrganizationID string
}

// OrgKey falls back to the user id for callers without an organization.
func (i Identity) OrgKey() string {
	if i.OrganizationID != "" {
		return i.OrganizationID
	}
	return i.UserID
}

// UnauthenticatedError indicates a missing caller identity.
type UnauthenticatedError struct{}

func (UnauthenticatedError) Error() string {
	return "authentication required"
}

// ForbiddenError indicates the caller does not own the resource.
type ForbiddenError struct {
	Kind string
	ID   string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not authorized to access %s %s", e.Kind, e.ID)
}

// Require fails when the identity carries no user.
func Require(id Identity) error {
	if id.UserID == "" {
		return UnauthenticatedError{}
	}
	return nil
}

// RequireOwner fails unless id owns the resource.
func RequireOwner(id Identity, kind, resourceID, ownerID string) error {
	if err := Require(id); err != nil {
		return err
	}
	if ownerID != id.UserID {
		return ForbiddenError{Kind: kind, ID: resourceID}
	}
	return nil
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var fe ForbiddenError
	return errors.As(err, &fe)
}
