package jobs

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostingspace/app/internal/db"
	"hostingspace/app/internal/kvstore"
	"hostingspace/app/internal/sites"
)

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSweepRemovesOrphanedRoutes(t *testing.T) {
	ctx := context.Background()
	logger := silentLogger()

	gormDB, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "sweep.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })
	require.NoError(t, sites.Migrate(ctx, gormDB, logger))

	repo, err := sites.NewRepository(gormDB, logger)
	require.NoError(t, err)
	user, err := repo.EnsureUser(ctx, "user_1", "Owner")
	require.NoError(t, err)
	require.NoError(t, repo.CreateSite(ctx, &sites.Site{Name: "Kept", RouteName: "kept", BuildType: sites.BuildTypeTemplate, OwnerID: user.ID}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := kvstore.NewWithClient(client, kvstore.DefaultKeyPrefix, logger)

	require.NoError(t, store.Set(ctx, "kept", "<html></html>"))
	require.NoError(t, store.Set(ctx, "orphan-a", "<html></html>"))
	require.NoError(t, store.Set(ctx, "orphan-b", "<html></html>"))

	sweeper, err := NewSweeper(store, repo, logger)
	require.NoError(t, err)

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	sort.Strings(removed)
	assert.Equal(t, []string{"orphan-a", "orphan-b"}, removed)

	routes, err := store.Routes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, routes)
}

func TestSweepSkipsDatabaseWhenNothingPublished(t *testing.T) {
	published := &fakePublished{}
	siteRoutes := &fakeSiteRoutes{err: errors.New("should not be called")}

	sweeper, err := NewSweeper(published, siteRoutes, silentLogger())
	require.NoError(t, err)

	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Zero(t, siteRoutes.calls)
}

func TestSweepDoesNotDeleteWhenSiteListingFails(t *testing.T) {
	published := &fakePublished{routes: []string{"a"}}
	sweeper, err := NewSweeper(published, &fakeSiteRoutes{err: errors.New("db down")}, silentLogger())
	require.NoError(t, err)

	_, err = sweeper.Sweep(context.Background())
	require.Error(t, err)
	assert.Empty(t, published.deleted)
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	sweeper, err := NewSweeper(&fakePublished{}, &fakeSiteRoutes{}, silentLogger())
	require.NoError(t, err)

	_, err = sweeper.Schedule(context.Background(), "not a schedule")
	require.Error(t, err)
}

func TestScheduleStopsWithContext(t *testing.T) {
	sweeper, err := NewSweeper(&fakePublished{}, &fakeSiteRoutes{}, silentLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c, err := sweeper.Schedule(ctx, "@every 1h")
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)

	cancel()

	select {
	case <-c.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("cron did not stop after cancellation")
	}
}

func TestNewSweeperRequiresDependencies(t *testing.T) {
	_, err := NewSweeper(nil, &fakeSiteRoutes{}, nil)
	require.Error(t, err)

	_, err = NewSweeper(&fakePublished{}, nil, nil)
	require.Error(t, err)
}

type fakePublished struct {
	routes  []string
	deleted []string
}

func (f *fakePublished) Routes(context.Context) ([]string, error) {
	return f.routes, nil
}

func (f *fakePublished) Delete(_ context.Context, route string) error {
	f.deleted = append(f.deleted, route)
	return nil
}

type fakeSiteRoutes struct {
	names []string
	err   error
	calls int
}

func (f *fakeSiteRoutes) ListRouteNames(context.Context) ([]string, error) {
	f.calls++
	return f.names, f.err
}
