package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"hostingspace/app/internal/auth"
	"hostingspace/app/internal/llm"
	"hostingspace/app/internal/routes"
	"hostingspace/app/internal/sites"
	"hostingspace/app/internal/vault"
)

const (
	routeTakenMessage       = "Route already taken"
	reconfigureKeyMessage   = "Your saved API key could not be read. Please reconfigure your API key."
	documentTooLargeMessage = "This site is too large to edit with AI."
)

func classifyError(err error) (int, string) {
	if err == nil {
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	}

	var (
		invalidSlug *routes.InvalidSlugError
		conflict    *routes.SlugConflictError
		decryptErr  *vault.DecryptionError
	)

	switch {
	case errors.As(err, &invalidSlug):
		return stdhttp.StatusBadRequest, "Invalid route name: " + invalidSlug.Reason
	case errors.Is(err, sites.ErrMissingFields):
		return stdhttp.StatusBadRequest, "Missing fields"
	case errors.Is(err, sites.ErrInvalidProvider):
		return stdhttp.StatusBadRequest, "Invalid provider"
	case errors.As(err, &conflict):
		return stdhttp.StatusConflict, routeTakenMessage
	case errors.Is(err, auth.ErrUnauthenticated):
		return stdhttp.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, sites.ErrForbidden):
		return stdhttp.StatusForbidden, "Not authorized for this site"
	case errors.Is(err, sites.ErrUserNotFound):
		return stdhttp.StatusNotFound, "User not found"
	case errors.Is(err, sites.ErrSiteNotFound):
		return stdhttp.StatusNotFound, "Site not found"
	case errors.Is(err, llm.ErrPromptTooLarge):
		return stdhttp.StatusRequestEntityTooLarge, documentTooLargeMessage
	case errors.As(err, &decryptErr):
		return stdhttp.StatusUnprocessableEntity, reconfigureKeyMessage
	default:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	}
}

// apiError maps err to a problem response. Only server faults are reported.
func (s *Server) apiError(ctx context.Context, err error, message string, fields logrus.Fields) error {
	status, detail := classifyError(err)
	if status >= stdhttp.StatusInternalServerError {
		s.recordError(ctx, err, message, fields)
	} else if status == stdhttp.StatusUnprocessableEntity && s.logger != nil {
		entry := s.logger.WithField("status", status)
		if identity, ok := IdentityFromContext(ctx); ok {
			entry = entry.WithField("auth_id", identity.AuthID)
		}
		entry.Warn("stored api key could not be decrypted")
	}
	return huma.NewError(status, detail)
}
