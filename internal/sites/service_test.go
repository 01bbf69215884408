package sites

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"hostingspace/app/internal/kvstore"
	"hostingspace/app/internal/llm"
	"hostingspace/app/internal/routes"
	"hostingspace/app/internal/vault"
)

const testMasterSecret = "service-test-master-secret-0123456789"

type stubGenerator struct {
	html         string
	err          error
	calls        int
	lastGenerate llm.GenerateRequest
	lastEdit     llm.EditRequest
}

func (s *stubGenerator) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	s.calls++
	s.lastGenerate = req
	if s.err != nil {
		return "", s.err
	}
	return s.html, nil
}

func (s *stubGenerator) Edit(_ context.Context, req llm.EditRequest) (string, error) {
	s.calls++
	s.lastEdit = req
	if s.err != nil {
		return "", s.err
	}
	return s.html, nil
}

type serviceFixture struct {
	service   Service
	repo      *GormRepository
	store     *kvstore.Store
	redis     *miniredis.Miniredis
	generator *stubGenerator
	vault     *vault.Vault
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()

	repo := setupRepository(t)

	mr := miniredis.RunT(t)
	store := kvstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", nil)
	t.Cleanup(func() { _ = store.Close() })

	v, err := vault.New(testMasterSecret)
	if err != nil {
		t.Fatalf("vault.New returned error: %v", err)
	}

	generator := &stubGenerator{html: "<!DOCTYPE html><html><head></head><body><p>generated</p></body></html>"}

	svc, err := NewService(ServiceOptions{
		Repository:  repo,
		Publisher:   store,
		Generator:   generator,
		Credentials: v,
		Logger:      silentLogger(),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	return &serviceFixture{service: svc, repo: repo, store: store, redis: mr, generator: generator, vault: v}
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(ServiceOptions{}); err == nil {
		t.Fatalf("expected error when dependencies are missing")
	}
}

func TestCheckRoute(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	owner := mustUser(t, f.repo, "owner")

	if err := f.repo.CreateSite(ctx, &Site{Name: "x", RouteName: "taken", BuildType: BuildTypeAI, OwnerID: owner.ID}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	cases := map[string]routes.Availability{
		"taken":      routes.Taken,
		"free-one":   routes.Available,
		"bad name":   routes.Invalid,
		"":           routes.Invalid,
		" taken":     routes.Invalid,
		"taken\t":    routes.Invalid,
		" free-one ": routes.Invalid,
	}
	for candidate, expected := range cases {
		got, err := f.service.CheckRoute(ctx, candidate)
		if err != nil {
			t.Fatalf("CheckRoute(%q) returned error: %v", candidate, err)
		}
		if got != expected {
			t.Fatalf("CheckRoute(%q): expected %q, got %q", candidate, expected, got)
		}
	}
}

func TestCreateSitePublishesWelcomePage(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")

	site, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "My Blog", RouteName: "my-blog", BuildType: BuildTypeTemplate})
	if err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}
	if site.RouteName != "my-blog" {
		t.Fatalf("unexpected site %+v", site)
	}
	if f.generator.calls != 0 {
		t.Fatalf("expected no generation without a prompt")
	}

	html, err := f.service.PublishedHTML(ctx, "my-blog")
	if err != nil {
		t.Fatalf("PublishedHTML returned error: %v", err)
	}
	if !strings.Contains(html, "This project&#39;s name is My Blog") {
		t.Fatalf("expected welcome page, got %q", html)
	}

	user, err := f.repo.UserByAuthID(ctx, "owner")
	if err != nil {
		t.Fatalf("UserByAuthID returned error: %v", err)
	}
	if user.SiteCount != 1 {
		t.Fatalf("expected site count 1, got %d", user.SiteCount)
	}
}

func TestCreateSiteValidation(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	owner := mustUser(t, f.repo, "owner")

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "r"}); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}

	var invalid *routes.InvalidSlugError
	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "no_underscores", BuildType: BuildTypeAI}); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSlugError, got %v", err)
	}

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: " spaced ", BuildType: BuildTypeTemplate}); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSlugError for surrounding whitespace, got %v", err)
	}
	if exists, _ := f.repo.RouteExists(ctx, "spaced"); exists {
		t.Fatalf("expected no site under the trimmed name")
	}

	if err := f.repo.CreateSite(ctx, &Site{Name: "x", RouteName: "taken", BuildType: BuildTypeAI, OwnerID: owner.ID}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	var conflict *routes.SlugConflictError
	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "taken", BuildType: BuildTypeAI, Prompt: "p"}); !errors.As(err, &conflict) {
		t.Fatalf("expected SlugConflictError, got %v", err)
	}
	if f.generator.calls != 0 {
		t.Fatalf("expected no generation for a taken route")
	}

	if _, err := f.service.CreateSite(ctx, "stranger", CreateSiteInput{Name: "n", RouteName: "fresh", BuildType: BuildTypeAI}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateSiteWithPromptUsesOwnGeminiKey(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")

	if _, err := f.service.SetAISettings(ctx, "owner", "gemini", "user-gemini-key"); err != nil {
		t.Fatalf("SetAISettings returned error: %v", err)
	}

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "Shop", RouteName: "shop", BuildType: BuildTypeAI, Prompt: "a shoe shop"}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	if f.generator.lastGenerate.APIKey != "user-gemini-key" {
		t.Fatalf("expected user key to be forwarded, got %q", f.generator.lastGenerate.APIKey)
	}
	if f.generator.lastGenerate.Prompt != "a shoe shop" {
		t.Fatalf("unexpected prompt %q", f.generator.lastGenerate.Prompt)
	}

	html, err := f.service.PublishedHTML(ctx, "shop")
	if err != nil || !strings.Contains(html, "generated") {
		t.Fatalf("expected generated html to be published, got %q %v", html, err)
	}
}

func TestCreateSiteIgnoresKeyForOtherProvider(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")

	if _, err := f.service.SetAISettings(ctx, "owner", "openai", "sk-openai"); err != nil {
		t.Fatalf("SetAISettings returned error: %v", err)
	}

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "Shop", RouteName: "shop", BuildType: BuildTypeAI, Prompt: "p"}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	if f.generator.lastGenerate.APIKey != "" {
		t.Fatalf("expected shared key fallback, got %q", f.generator.lastGenerate.APIKey)
	}
}

func TestCreateSiteSurfacesDecryptionError(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	owner := mustUser(t, f.repo, "owner")

	if err := f.repo.SetProviderSettings(ctx, owner.ID, vault.ProviderGemini, "00:11"); err != nil {
		t.Fatalf("SetProviderSettings returned error: %v", err)
	}

	_, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "site", BuildType: BuildTypeAI, Prompt: "p"})
	var decryptErr *vault.DecryptionError
	if !errors.As(err, &decryptErr) {
		t.Fatalf("expected DecryptionError, got %v", err)
	}
	if f.generator.calls != 0 {
		t.Fatalf("expected no generation with an unreadable key")
	}
}

func TestCreateSiteGenerationFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")
	f.generator.err = errors.New("model unavailable")

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "site", BuildType: BuildTypeAI, Prompt: "p"}); err == nil {
		t.Fatalf("expected generation error")
	}

	exists, err := f.repo.RouteExists(ctx, "site")
	if err != nil || exists {
		t.Fatalf("expected route to stay free, got %v %v", exists, err)
	}
}

func TestUpdateCodeOwnerOnly(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")
	mustUser(t, f.repo, "intruder")

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "page", BuildType: BuildTypeTemplate}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	if err := f.service.UpdateCode(ctx, "intruder", "page", "<p>pwned</p>"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if err := f.service.UpdateCode(ctx, "owner", "page", "<p>new</p>"); err != nil {
		t.Fatalf("UpdateCode returned error: %v", err)
	}

	html, err := f.service.PublishedHTML(ctx, "page")
	if err != nil || html != "<p>new</p>" {
		t.Fatalf("expected updated html, got %q %v", html, err)
	}

	if err := f.service.UpdateCode(ctx, "owner", "missing", "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for unknown route, got %v", err)
	}
}

func TestEditWithAIReturnsWithoutPublishing(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "Site", RouteName: "site", BuildType: BuildTypeTemplate}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}
	before, _ := f.service.PublishedHTML(ctx, "site")

	edited, err := f.service.EditWithAI(ctx, "owner", "site", "make it blue")
	if err != nil {
		t.Fatalf("EditWithAI returned error: %v", err)
	}
	if edited != f.generator.html {
		t.Fatalf("unexpected edited html %q", edited)
	}
	if f.generator.lastEdit.ExistingHTML != before || f.generator.lastEdit.Instruction != "make it blue" {
		t.Fatalf("unexpected edit request %+v", f.generator.lastEdit)
	}

	after, _ := f.service.PublishedHTML(ctx, "site")
	if after != before {
		t.Fatalf("expected published html to be unchanged by an edit")
	}

	if _, err := f.service.EditWithAI(ctx, "owner", "site", "  "); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestDeleteSiteRemovesRecordAndPublication(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")
	mustUser(t, f.repo, "other")

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "gone", BuildType: BuildTypeTemplate}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	if err := f.service.DeleteSite(ctx, "other", "gone"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if err := f.service.DeleteSite(ctx, "owner", "gone"); err != nil {
		t.Fatalf("DeleteSite returned error: %v", err)
	}

	if _, err := f.service.PublishedHTML(ctx, "gone"); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound, got %v", err)
	}
	if f.redis.Exists("site:gone") {
		t.Fatalf("expected published key to be removed")
	}

	availability, err := f.service.CheckRoute(ctx, "gone")
	if err != nil || availability != routes.Available {
		t.Fatalf("expected route to be released, got %q %v", availability, err)
	}
}

func TestListSites(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")

	for _, route := range []string{"one", "two"} {
		if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: route, RouteName: route, BuildType: BuildTypeTemplate}); err != nil {
			t.Fatalf("CreateSite returned error: %v", err)
		}
	}

	list, err := f.service.ListSites(ctx, "owner")
	if err != nil {
		t.Fatalf("ListSites returned error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(list))
	}
}

func TestAISettingsLifecycle(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")

	settings, err := f.service.AISettings(ctx, "owner")
	if err != nil {
		t.Fatalf("AISettings returned error: %v", err)
	}
	if settings.Provider != "" || settings.HasAPIKey {
		t.Fatalf("expected empty settings, got %+v", settings)
	}

	if _, err := f.service.SetAISettings(ctx, "owner", "mistral", "key"); !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
	if _, err := f.service.SetAISettings(ctx, "owner", "gemini", ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}

	settings, err = f.service.SetAISettings(ctx, "owner", "claude", "sk-ant-secret")
	if err != nil {
		t.Fatalf("SetAISettings returned error: %v", err)
	}
	if settings.Provider != "claude" || !settings.HasAPIKey {
		t.Fatalf("unexpected settings %+v", settings)
	}

	user, err := f.repo.UserByAuthID(ctx, "owner")
	if err != nil {
		t.Fatalf("UserByAuthID returned error: %v", err)
	}
	if strings.Contains(user.StoredCredential(), "sk-ant-secret") {
		t.Fatalf("api key stored in plaintext")
	}
	plaintext, err := f.vault.Decrypt(user.StoredCredential())
	if err != nil || plaintext != "sk-ant-secret" {
		t.Fatalf("expected stored credential to decrypt, got %q %v", plaintext, err)
	}

	if err := f.service.RemoveAISettings(ctx, "owner"); err != nil {
		t.Fatalf("RemoveAISettings returned error: %v", err)
	}

	settings, err = f.service.AISettings(ctx, "owner")
	if err != nil {
		t.Fatalf("AISettings returned error: %v", err)
	}
	if settings.Provider != "" || settings.HasAPIKey {
		t.Fatalf("expected cleared settings, got %+v", settings)
	}
}

func TestPublishedHTMLMissing(t *testing.T) {
	t.Parallel()

	f := setupService(t)

	if _, err := f.service.PublishedHTML(context.Background(), "nothing-here"); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound, got %v", err)
	}
	if _, err := f.service.PublishedHTML(context.Background(), "../etc"); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound for invalid route, got %v", err)
	}
}

// staleRouteCheck answers every availability pre-check with "free", as a
// concurrent creator would see it before the other insert commits.
type staleRouteCheck struct {
	*GormRepository
}

func (staleRouteCheck) RouteExists(context.Context, string) (bool, error) {
	return false, nil
}

type failingPublisher struct {
	*kvstore.Store
	err error
}

func (p failingPublisher) Set(context.Context, string, string) error {
	return p.err
}

func TestCreateSiteConflictFromUniqueConstraint(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	first := mustUser(t, f.repo, "first")
	mustUser(t, f.repo, "second")

	if err := f.repo.CreateSite(ctx, &Site{Name: "x", RouteName: "contested", BuildType: BuildTypeTemplate, OwnerID: first.ID}); err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	svc, err := NewService(ServiceOptions{
		Repository:  staleRouteCheck{f.repo},
		Publisher:   f.store,
		Generator:   f.generator,
		Credentials: f.vault,
		Logger:      silentLogger(),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	var conflict *routes.SlugConflictError
	_, err = svc.CreateSite(ctx, "second", CreateSiteInput{Name: "mine", RouteName: "contested", BuildType: BuildTypeTemplate})
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SlugConflictError, got %v", err)
	}
	if conflict.RouteName != "contested" {
		t.Fatalf("unexpected conflict route %q", conflict.RouteName)
	}

	if _, err := f.store.Get(ctx, "contested"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected nothing published for the losing create, got %v", err)
	}

	second, err := f.repo.UserByAuthID(ctx, "second")
	if err != nil {
		t.Fatalf("UserByAuthID returned error: %v", err)
	}
	if second.SiteCount != 0 {
		t.Fatalf("expected losing user's site count to stay 0, got %d", second.SiteCount)
	}
}

func TestCreateSitePublishFailureReleasesRoute(t *testing.T) {
	t.Parallel()

	f := setupService(t)
	ctx := context.Background()
	mustUser(t, f.repo, "owner")

	svc, err := NewService(ServiceOptions{
		Repository:  f.repo,
		Publisher:   failingPublisher{Store: f.store, err: errors.New("redis unavailable")},
		Generator:   f.generator,
		Credentials: f.vault,
		Logger:      silentLogger(),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	if _, err := svc.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "retry-me", BuildType: BuildTypeTemplate}); err == nil {
		t.Fatalf("expected publish failure to be returned")
	}

	if exists, err := f.repo.RouteExists(ctx, "retry-me"); err != nil || exists {
		t.Fatalf("expected route to be released, exists=%v err=%v", exists, err)
	}

	user, err := f.repo.UserByAuthID(ctx, "owner")
	if err != nil {
		t.Fatalf("UserByAuthID returned error: %v", err)
	}
	if user.SiteCount != 0 {
		t.Fatalf("expected site count 0 after rollback, got %d", user.SiteCount)
	}

	if _, err := f.service.CreateSite(ctx, "owner", CreateSiteInput{Name: "n", RouteName: "retry-me", BuildType: BuildTypeTemplate}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}
