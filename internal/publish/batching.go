package publish

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrNotifyBackpressure = errors.New("notify backpressure: event buffer is full")
	ErrNotifierClosed     = errors.New("batching notifier is closed")
)

type BatchingConfig struct {
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	QueueCapacity int
}

// BatchingNotifier coalesces close-in-time events for the same session into
// one rebuild signal, since the publish pipeline rebuilds the whole site per
// event anyway. Delivery stays fire-and-forget: flush failures are logged.
type BatchingNotifier struct {
	base   Notifier
	logger *log.Logger

	in        chan SiteEvent
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	config    BatchingConfig
}

func NewBatchingNotifier(base Notifier, cfg BatchingConfig, logger *log.Logger) *BatchingNotifier {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}

	notifier := &BatchingNotifier{
		base:   base,
		logger: logger,
		in:     make(chan SiteEvent, cfg.QueueCapacity),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		config: cfg,
	}
	go notifier.run()
	return notifier
}

func (n *BatchingNotifier) NotifySiteUpdated(_ context.Context, event SiteEvent) error {
	select {
	case <-n.done:
		return ErrNotifierClosed
	default:
	}

	select {
	case n.in <- event:
		return nil
	default:
		return ErrNotifyBackpressure
	}
}

func (n *BatchingNotifier) Close() {
	n.closeOnce.Do(func() {
		close(n.stop)
		<-n.done
	})
}

func (n *BatchingNotifier) run() {
	defer close(n.done)

	pending := make(map[string]SiteEvent)
	ticker := time.NewTicker(n.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			n.drain(pending)
			n.flush(pending)
			return
		case <-ticker.C:
			n.flush(pending)
		case event := <-n.in:
			pending[event.SessionID] = mergeEvents(pending[event.SessionID], event)
		}
	}
}

func (n *BatchingNotifier) drain(pending map[string]SiteEvent) {
	for {
		select {
		case event := <-n.in:
			pending[event.SessionID] = mergeEvents(pending[event.SessionID], event)
		default:
			return
		}
	}
}

func (n *BatchingNotifier) flush(pending map[string]SiteEvent) {
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.FlushTimeout)
	defer cancel()

	for sessionID, event := range pending {
		if err := n.base.NotifySiteUpdated(ctx, event); err != nil && n.logger != nil {
			n.logger.Printf("site update flush failed session_id=%s err=%v", sessionID, err)
		}
		delete(pending, sessionID)
	}
}

func mergeEvents(existing, incoming SiteEvent) SiteEvent {
	if existing.SessionID == "" {
		return incoming
	}

	seen := make(map[string]struct{}, len(existing.UpdatedKeys))
	for _, key := range existing.UpdatedKeys {
		seen[key] = struct{}{}
	}
	for _, key := range incoming.UpdatedKeys {
		if _, duplicate := seen[key]; !duplicate {
			existing.UpdatedKeys = append(existing.UpdatedKeys, key)
		}
	}
	existing.Source = incoming.Source
	existing.SiteName = incoming.SiteName
	existing.OccurredAt = incoming.OccurredAt
	return existing
}
