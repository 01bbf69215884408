package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// DefaultKeyPrefix namespaces published documents inside the key space.
const DefaultKeyPrefix = "site:"

// ErrNotFound indicates nothing is published under the route.
var ErrNotFound = eris.New("published site not found")

// Options configures the Redis connection backing the store.
type Options struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	Logger    *logrus.Logger
}

// Store holds the published HTML for every route.
type Store struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

// New builds a store around a fresh client. No connection is made until Connect or first use.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, eris.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return NewWithClient(client, opts.KeyPrefix, opts.Logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, logger *logrus.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Store{client: client, prefix: prefix, logger: logger}
}

// Connect verifies the server is reachable.
func (s *Store) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logError(nil, err, "pinging redis")
		return eris.Wrap(err, "connecting to redis")
	}

	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return eris.Wrap(err, "closing redis client")
	}
	return nil
}

// Get returns the published HTML for route or ErrNotFound.
func (s *Store) Get(ctx context.Context, route string) (string, error) {
	value, err := s.client.Get(ctx, s.key(route)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		s.logError(logrus.Fields{"route_name": route}, err, "reading published site")
		return "", eris.Wrapf(err, "reading published site: %s", route)
	}

	return value, nil
}

// Set overwrites the published HTML for route. Entries never expire.
func (s *Store) Set(ctx context.Context, route, html string) error {
	if err := s.client.Set(ctx, s.key(route), html, 0).Err(); err != nil {
		s.logError(logrus.Fields{"route_name": route}, err, "publishing site")
		return eris.Wrapf(err, "publishing site: %s", route)
	}

	return nil
}

// Delete removes the published HTML for route. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, route string) error {
	if err := s.client.Del(ctx, s.key(route)).Err(); err != nil {
		s.logError(logrus.Fields{"route_name": route}, err, "unpublishing site")
		return eris.Wrapf(err, "unpublishing site: %s", route)
	}

	return nil
}

// Routes lists every route that currently has published HTML.
func (s *Store) Routes(ctx context.Context) ([]string, error) {
	var routes []string

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		routes = append(routes, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		s.logError(nil, err, "scanning published sites")
		return nil, eris.Wrap(err, "scanning published sites")
	}

	return routes, nil
}

func (s *Store) key(route string) string {
	return s.prefix + route
}

func (s *Store) logError(fields logrus.Fields, err error, message string) {
	if s.logger == nil || err == nil {
		return
	}

	entry := s.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
