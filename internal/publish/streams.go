package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// StreamsNotifier delivers site-update events to a Redis Stream the publish
// pipeline consumes.
type StreamsNotifier struct {
	client *redis.Client
	stream string
}

func NewStreamsNotifier(ctx context.Context, cfg StreamsConfig) (*StreamsNotifier, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "site_updates"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &StreamsNotifier{client: client, stream: cfg.Stream}, nil
}

func (n *StreamsNotifier) Close() error {
	return n.client.Close()
}

func (n *StreamsNotifier) NotifySiteUpdated(ctx context.Context, event SiteEvent) error {
	_, err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{
			"session_id":   event.SessionID,
			"site_name":    event.SiteName,
			"source":       event.Source,
			"updated_keys": strings.Join(event.UpdatedKeys, ","),
			"occurred_at":  event.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish site update: %w", err)
	}
	return nil
}
