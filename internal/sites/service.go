package sites

import (
	"context"
	"errors"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"hostingspace/app/internal/kvstore"
	"hostingspace/app/internal/llm"
	"hostingspace/app/internal/routes"
	"hostingspace/app/internal/templates"
	"hostingspace/app/internal/vault"
)

const (
	BuildTypeAI       = "ai"
	BuildTypeTemplate = "template"
)

var (
	// ErrMissingFields indicates a required input was blank.
	ErrMissingFields = eris.New("missing required fields")
	// ErrForbidden indicates the caller does not own the site.
	ErrForbidden = eris.New("not authorized for this site")
	// ErrInvalidProvider indicates an AI provider outside the supported set.
	ErrInvalidProvider = eris.New("invalid ai provider")
)

// Publisher stores the HTML served for each route.
type Publisher interface {
	Get(ctx context.Context, route string) (string, error)
	Set(ctx context.Context, route, html string) error
	Delete(ctx context.Context, route string) error
}

// Credentials encrypts and selects per-user provider keys.
type Credentials interface {
	Encrypt(plaintext string) (string, error)
	SelectProviderKey(holder vault.CredentialHolder, target vault.Provider) (string, bool, error)
}

// CreateSiteInput carries the fields of a new site. An empty Prompt publishes
// the welcome page instead of generated content.
type CreateSiteInput struct {
	Name      string
	RouteName string
	BuildType string
	Prompt    string
}

// AISettings is the user's provider selection as exposed to clients.
type AISettings struct {
	Provider  string `json:"provider"`
	HasAPIKey bool   `json:"hasApiKey"`
}

// Service defines the site operations exposed to the transport layer.
type Service interface {
	EnsureUser(ctx context.Context, authID, name string) (*User, error)
	CheckRoute(ctx context.Context, routeName string) (routes.Availability, error)
	CreateSite(ctx context.Context, authID string, input CreateSiteInput) (*Site, error)
	UpdateCode(ctx context.Context, authID, routeName, code string) error
	EditWithAI(ctx context.Context, authID, routeName, instruction string) (string, error)
	DeleteSite(ctx context.Context, authID, routeName string) error
	ListSites(ctx context.Context, authID string) ([]Site, error)
	AISettings(ctx context.Context, authID string) (AISettings, error)
	SetAISettings(ctx context.Context, authID, provider, apiKey string) (AISettings, error)
	RemoveAISettings(ctx context.Context, authID string) error
	PublishedHTML(ctx context.Context, routeName string) (string, error)
}

// ServiceOptions wires the service with its dependencies.
type ServiceOptions struct {
	Repository  Repository
	Publisher   Publisher
	Generator   llm.Generator
	Credentials Credentials
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
}

type service struct {
	repo        Repository
	publisher   Publisher
	generator   llm.Generator
	credentials Credentials
	logger      *logrus.Logger
	sentryHub   *sentry.Hub
}

var _ Service = (*service)(nil)

// NewService wires the site service with its dependencies.
func NewService(opts ServiceOptions) (Service, error) {
	if opts.Repository == nil {
		return nil, eris.New("sites repository is required")
	}
	if opts.Publisher == nil {
		return nil, eris.New("site publisher is required")
	}
	if opts.Generator == nil {
		return nil, eris.New("llm generator is required")
	}
	if opts.Credentials == nil {
		return nil, eris.New("credential vault is required")
	}

	return &service{
		repo:        opts.Repository,
		publisher:   opts.Publisher,
		generator:   opts.Generator,
		credentials: opts.Credentials,
		logger:      opts.Logger,
		sentryHub:   opts.SentryHub,
	}, nil
}

func (s *service) EnsureUser(ctx context.Context, authID, name string) (*User, error) {
	user, err := s.repo.EnsureUser(ctx, authID, name)
	if err != nil {
		s.recordError(logrus.Fields{"auth_id": authID}, err, "provisioning user")
		return nil, err
	}
	return user, nil
}

func (s *service) CheckRoute(ctx context.Context, routeName string) (routes.Availability, error) {
	availability, err := routes.CheckAvailability(ctx, routeName, s.repo.RouteExists)
	if err != nil {
		s.recordError(logrus.Fields{"route_name": routeName}, err, "checking route availability")
		return "", err
	}
	return availability, nil
}

func (s *service) CreateSite(ctx context.Context, authID string, input CreateSiteInput) (*Site, error) {
	name := strings.TrimSpace(input.Name)
	routeName := input.RouteName
	buildType := strings.TrimSpace(input.BuildType)
	prompt := strings.TrimSpace(input.Prompt)

	if name == "" || routeName == "" || buildType == "" {
		return nil, ErrMissingFields
	}

	if err := routes.ValidateSlug(routeName); err != nil {
		return nil, err
	}

	fields := logrus.Fields{"route_name": routeName}

	exists, err := s.repo.RouteExists(ctx, routeName)
	if err != nil {
		s.recordError(fields, err, "pre-checking route")
		return nil, err
	}
	if exists {
		return nil, &routes.SlugConflictError{RouteName: routeName}
	}

	user, err := s.repo.UserByAuthID(ctx, authID)
	if err != nil {
		return nil, err
	}
	fields["user_id"] = user.ID

	var document string
	if prompt != "" {
		apiKey, err := s.providerKey(user, vault.ProviderGemini)
		if err != nil {
			return nil, err
		}

		document, err = s.generator.Generate(ctx, llm.GenerateRequest{Name: name, Prompt: prompt, APIKey: apiKey})
		if err != nil {
			s.recordError(fields, err, "generating site")
			return nil, eris.Wrapf(err, "generating site: %s", routeName)
		}
	} else {
		body, err := templates.Render(ctx, templates.WelcomePage(templates.WelcomePageData{Name: name}))
		if err != nil {
			s.recordError(fields, err, "rendering welcome page")
			return nil, err
		}
		document = string(body)
	}

	site := &Site{Name: name, RouteName: routeName, BuildType: buildType, OwnerID: user.ID}
	if err := s.repo.CreateSite(ctx, site); err != nil {
		return nil, err
	}

	if err := s.publisher.Set(ctx, routeName, document); err != nil {
		s.recordError(fields, err, "publishing new site")
		if rollbackErr := s.repo.DeleteSite(ctx, site); rollbackErr != nil {
			s.recordError(fields, rollbackErr, "releasing route after failed publish")
		}
		return nil, eris.Wrapf(err, "publishing site: %s", routeName)
	}

	if s.logger != nil {
		s.logger.WithFields(fields).WithField("build_type", buildType).Info("site created")
	}

	return site, nil
}

func (s *service) UpdateCode(ctx context.Context, authID, routeName, code string) error {
	site, err := s.ownedSite(ctx, authID, routeName)
	if err != nil {
		return err
	}

	fields := logrus.Fields{"route_name": site.RouteName}
	if err := s.publisher.Set(ctx, site.RouteName, code); err != nil {
		s.recordError(fields, err, "publishing site code")
		return eris.Wrapf(err, "publishing site: %s", site.RouteName)
	}

	if err := s.repo.TouchSite(ctx, site.ID); err != nil {
		s.recordError(fields, err, "touching site after update")
		return err
	}

	return nil
}

func (s *service) EditWithAI(ctx context.Context, authID, routeName, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", ErrMissingFields
	}

	site, err := s.ownedSite(ctx, authID, routeName)
	if err != nil {
		return "", err
	}

	fields := logrus.Fields{"route_name": site.RouteName}

	existing, err := s.publisher.Get(ctx, site.RouteName)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return "", ErrSiteNotFound
		}
		s.recordError(fields, err, "reading site for edit")
		return "", err
	}

	user, err := s.repo.UserByAuthID(ctx, authID)
	if err != nil {
		return "", err
	}

	apiKey, err := s.providerKey(user, vault.ProviderGemini)
	if err != nil {
		return "", err
	}

	edited, err := s.generator.Edit(ctx, llm.EditRequest{
		Name:         site.Name,
		ExistingHTML: existing,
		Instruction:  instruction,
		APIKey:       apiKey,
	})
	if err != nil {
		if errors.Is(err, llm.ErrPromptTooLarge) {
			return "", err
		}
		s.recordError(fields, err, "editing site with ai")
		return "", eris.Wrapf(err, "editing site: %s", site.RouteName)
	}

	return edited, nil
}

func (s *service) DeleteSite(ctx context.Context, authID, routeName string) error {
	site, err := s.ownedSite(ctx, authID, routeName)
	if err != nil {
		return err
	}

	fields := logrus.Fields{"route_name": site.RouteName}
	if err := s.repo.DeleteSite(ctx, site); err != nil {
		return err
	}

	if err := s.publisher.Delete(ctx, site.RouteName); err != nil {
		s.recordError(fields, err, "unpublishing deleted site")
		return eris.Wrapf(err, "unpublishing site: %s", site.RouteName)
	}

	if s.logger != nil {
		s.logger.WithFields(fields).Info("site deleted")
	}

	return nil
}

func (s *service) ListSites(ctx context.Context, authID string) ([]Site, error) {
	user, err := s.repo.UserByAuthID(ctx, authID)
	if err != nil {
		return nil, err
	}

	return s.repo.ListSites(ctx, user.ID)
}

func (s *service) AISettings(ctx context.Context, authID string) (AISettings, error) {
	user, err := s.repo.UserByAuthID(ctx, authID)
	if err != nil {
		return AISettings{}, err
	}

	return settingsFor(user), nil
}

func (s *service) SetAISettings(ctx context.Context, authID, provider, apiKey string) (AISettings, error) {
	apiKey = strings.TrimSpace(apiKey)
	if strings.TrimSpace(provider) == "" || apiKey == "" {
		return AISettings{}, ErrMissingFields
	}

	parsed, err := vault.ParseProvider(strings.TrimSpace(provider))
	if err != nil {
		return AISettings{}, eris.Wrapf(ErrInvalidProvider, "provider %q", provider)
	}

	user, err := s.repo.UserByAuthID(ctx, authID)
	if err != nil {
		return AISettings{}, err
	}

	stored, err := s.credentials.Encrypt(apiKey)
	if err != nil {
		s.recordError(logrus.Fields{"user_id": user.ID}, err, "encrypting api key")
		return AISettings{}, err
	}

	if err := s.repo.SetProviderSettings(ctx, user.ID, parsed, stored); err != nil {
		return AISettings{}, err
	}

	return AISettings{Provider: string(parsed), HasAPIKey: true}, nil
}

func (s *service) RemoveAISettings(ctx context.Context, authID string) error {
	user, err := s.repo.UserByAuthID(ctx, authID)
	if err != nil {
		return err
	}

	return s.repo.ClearProviderSettings(ctx, user.ID)
}

func (s *service) PublishedHTML(ctx context.Context, routeName string) (string, error) {
	if !routes.IsValidSlug(routeName) {
		return "", ErrSiteNotFound
	}

	html, err := s.publisher.Get(ctx, routeName)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return "", ErrSiteNotFound
		}
		s.recordError(logrus.Fields{"route_name": routeName}, err, "reading published site")
		return "", err
	}

	if strings.TrimSpace(html) == "" {
		return "", ErrSiteNotFound
	}

	return html, nil
}

func (s *service) ownedSite(ctx context.Context, authID, routeName string) (*Site, error) {
	if routeName == "" {
		return nil, ErrMissingFields
	}

	user, err := s.repo.UserByAuthID(ctx, authID)
	if err != nil {
		return nil, err
	}

	site, err := s.repo.SiteByRoute(ctx, routeName)
	if err != nil {
		if errors.Is(err, ErrSiteNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	if site.OwnerID != user.ID {
		return nil, ErrForbidden
	}

	return site, nil
}

// providerKey returns the user's own key for target, or "" to fall back to the
// shared application key.
func (s *service) providerKey(user *User, target vault.Provider) (string, error) {
	key, ok, err := s.credentials.SelectProviderKey(user, target)
	if err != nil {
		if s.logger != nil {
			s.logger.WithField("user_id", user.ID).Warn("stored api key could not be decrypted")
		}
		return "", err
	}
	if !ok {
		return "", nil
	}
	return key, nil
}

func settingsFor(user *User) AISettings {
	return AISettings{
		Provider:  user.CredentialProvider(),
		HasAPIKey: user.StoredCredential() != "",
	}
}

func (s *service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil {
		hub := s.sentryHub.Clone()
		hub.WithScope(func(scope *sentry.Scope) {
			for key, value := range fields {
				scope.SetExtra(key, value)
			}
			scope.SetTag("component", "sites.service")
			hub.CaptureException(err)
		})
	}
}
