package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// DefaultSweepSchedule runs the orphan sweep once a day.
const DefaultSweepSchedule = "@daily"

const sweepTimeout = 5 * time.Minute

// PublishedRoutes lists and removes published documents.
type PublishedRoutes interface {
	Routes(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, route string) error
}

// SiteRoutes lists the route names that have a site record.
type SiteRoutes interface {
	ListRouteNames(ctx context.Context) ([]string, error)
}

// Sweeper removes published documents whose site record no longer exists.
// These are left behind when a delete fails between the database and the
// key-value store.
type Sweeper struct {
	published PublishedRoutes
	sites     SiteRoutes
	logger    *logrus.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(published PublishedRoutes, sites SiteRoutes, logger *logrus.Logger) (*Sweeper, error) {
	if published == nil {
		return nil, eris.New("published route store is required")
	}
	if sites == nil {
		return nil, eris.New("site repository is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Sweeper{published: published, sites: sites, logger: logger}, nil
}

// Sweep deletes orphaned documents and returns the routes it removed.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	published, err := s.published.Routes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "listing published routes")
	}
	if len(published) == 0 {
		return nil, nil
	}

	known, err := s.sites.ListRouteNames(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "listing site routes")
	}

	owned := make(map[string]struct{}, len(known))
	for _, route := range known {
		owned[route] = struct{}{}
	}

	var removed []string
	for _, route := range published {
		if _, ok := owned[route]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.published.Delete(ctx, route); err != nil {
			return removed, eris.Wrapf(err, "deleting orphaned route %s", route)
		}
		removed = append(removed, route)
	}

	return removed, nil
}

// Schedule runs Sweep on schedule until ctx is cancelled. The returned cron is
// already started.
func (s *Sweeper) Schedule(ctx context.Context, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return nil, eris.Wrapf(err, "invalid sweep schedule %q", schedule)
	}
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()

	s.logger.WithField("schedule", schedule).Info("orphan sweep scheduled")
	return c, nil
}

func (s *Sweeper) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	removed, err := s.Sweep(runCtx)
	entry := s.logger.WithFields(logrus.Fields{
		"removed":     len(removed),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("orphan sweep failed")
		return
	}
	entry.Info("orphan sweep finished")
}
