package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/publish"
	"github.com/craftpage/wizard-back/internal/repository"
)

// Bridge copies a completed request's generated content into its session's
// draft under the type's section key. The step is left untouched so the
// customer resumes exactly where they were.
type Bridge struct {
	sessions repository.SessionsRepository
	notifier publish.Notifier
	logger   *log.Logger
}

func NewBridge(
	sessions repository.SessionsRepository,
	notifier publish.Notifier,
	logger *log.Logger,
) *Bridge {
	return &Bridge{sessions: sessions, notifier: notifier, logger: logger}
}

// ApplyResult merges the generated content into the session draft. A session
// that was deleted or provisioned in the meantime orphans the result: the
// request stays completed and the miss is only logged.
func (b *Bridge) ApplyResult(ctx context.Context, request *domain.AiRequest) error {
	if len(request.GeneratedContent) == 0 {
		return fmt.Errorf("request %s has no generated content", request.ID)
	}

	fragment := domain.DraftData{
		request.RequestType.DraftKey(): append(json.RawMessage(nil), request.GeneratedContent...),
	}

	session, err := b.sessions.MergeDraft(ctx, request.SessionID, fragment)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if b.logger != nil {
				b.logger.Printf(
					"generated content orphaned request_id=%s session_id=%s",
					request.ID, request.SessionID,
				)
			}
			return nil
		}
		return fmt.Errorf("merge generated content: %w", err)
	}

	if b.notifier != nil {
		event := publish.SiteEvent{
			SessionID:   session.ID,
			SiteName:    session.SiteName,
			Source:      publish.SourceGeneration,
			UpdatedKeys: []string{request.RequestType.DraftKey()},
			OccurredAt:  time.Now().UTC(),
		}
		if err := b.notifier.NotifySiteUpdated(context.Background(), event); err != nil && b.logger != nil {
			b.logger.Printf("site update notify failed session_id=%s err=%v", session.ID, err)
		}
	}
	return nil
}
