package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the document as one JSON value under a single key. It
// uses plain GET and SET, so overlapping ingests behave like the file backend.
type RedisStore struct {
	logger *slog.Logger
	client *redis.Client
	key    string
}

func NewRedisStore(ctx context.Context, logger *slog.Logger, addr, password string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		logger: logger.With("module", "store", "backend", "redis"),
		client: client,
		key:    key,
	}, nil
}

func (s *RedisStore) Load(ctx context.Context) *Document {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Debug("document key not found, starting empty", "key", s.key)
		} else {
			s.logger.Warn("failed to read document, starting empty", "key", s.key, "err", err)
		}
		loadFallbacks.WithLabelValues("redis").Inc()
		return NewDocument()
	}

	doc := &Document{}
	if err := json.Unmarshal(b, doc); err != nil {
		s.logger.Warn("failed to parse document, starting empty", "key", s.key, "err", err)
		loadFallbacks.WithLabelValues("redis").Inc()
		return NewDocument()
	}

	return doc.normalize()
}

func (s *RedisStore) Save(ctx context.Context, doc *Document) error {
	start := time.Now()
	defer func() {
		saveDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	b, err := json.Marshal(doc.normalize())
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	s.logger.Info("clearing database")
	return s.Save(ctx, NewDocument())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
