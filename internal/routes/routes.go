// Package routes validates route names (the public URL slug of a published
// site) and answers whether a route name is still free.
package routes

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// MaxLength caps route names at the DNS label limit since they appear in public URLs.
const MaxLength = 63

// Availability is the outcome of an availability check.
type Availability string

const (
	Available Availability = "available"
	Taken     Availability = "taken"
	Invalid   Availability = "invalid"
)

// InvalidSlugError reports a route name that does not match [a-zA-Z0-9-]{1,63}.
type InvalidSlugError struct {
	Candidate string
	Reason    string
}

func (e *InvalidSlugError) Error() string {
	return fmt.Sprintf("invalid route name %q: %s", e.Candidate, e.Reason)
}

// SlugConflictError reports that a route name is already used by another
// site. It is produced both by a failed pre-check and by the storage layer's
// unique constraint so callers can treat the two identically.
type SlugConflictError struct {
	RouteName string
}

func (e *SlugConflictError) Error() string {
	return fmt.Sprintf("route name %q is already taken", e.RouteName)
}

// LookupFunc reports whether a site with the given route name exists.
type LookupFunc func(ctx context.Context, routeName string) (bool, error)

// ValidateSlug checks the route name grammar without touching any store.
func ValidateSlug(candidate string) error {
	if candidate == "" {
		return &InvalidSlugError{Candidate: candidate, Reason: "must not be empty"}
	}
	if len(candidate) > MaxLength {
		return &InvalidSlugError{Candidate: candidate, Reason: fmt.Sprintf("must be at most %d characters", MaxLength)}
	}

	for i := 0; i < len(candidate); i++ {
		if !allowed(candidate[i]) {
			return &InvalidSlugError{Candidate: candidate, Reason: "only letters, numbers, and hyphens (-) are allowed"}
		}
	}

	return nil
}

// IsValidSlug is the boolean form of ValidateSlug.
func IsValidSlug(candidate string) bool {
	return ValidateSlug(candidate) == nil
}

// CheckAvailability validates candidate and, only when it is valid, asks
// lookup whether it is in use. The result is advisory: creation must still
// rely on the store's unique constraint.
func CheckAvailability(ctx context.Context, candidate string, lookup LookupFunc) (Availability, error) {
	if !IsValidSlug(candidate) {
		return Invalid, nil
	}
	if lookup == nil {
		return "", eris.New("route lookup is required")
	}

	exists, err := lookup(ctx, candidate)
	if err != nil {
		return "", eris.Wrapf(err, "looking up route name %s", candidate)
	}
	if exists {
		return Taken, nil
	}
	return Available, nil
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-':
		return true
	}
	return false
}
