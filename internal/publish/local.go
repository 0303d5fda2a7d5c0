package publish

import (
	"context"
	"log"
	"strings"
)

// LogNotifier is the fallback when no publish pipeline is configured: events
// are logged and dropped.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifySiteUpdated(_ context.Context, event SiteEvent) error {
	if n.logger != nil {
		n.logger.Printf(
			"site update (not delivered) session_id=%s source=%s keys=%s",
			event.SessionID,
			event.Source,
			strings.Join(event.UpdatedKeys, ","),
		)
	}
	return nil
}
