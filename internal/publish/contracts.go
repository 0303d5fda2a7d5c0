package publish

import (
	"context"
	"time"
)

// SiteEvent signals the downstream publish pipeline that a session's draft
// content changed and the generated site should be rebuilt. Delivery is
// fire-and-forget: the pipeline owns its own retries.
type SiteEvent struct {
	SessionID   string    `json:"session_id"`
	SiteName    string    `json:"site_name,omitempty"`
	Source      string    `json:"source"`
	UpdatedKeys []string  `json:"updated_keys,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	SourceStepSave   = "step_save"
	SourceGeneration = "generation"
	SourceProvision  = "provision"
)

// Notifier delivers site-update events to the publish pipeline.
type Notifier interface {
	NotifySiteUpdated(ctx context.Context, event SiteEvent) error
}
