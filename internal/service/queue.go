package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/quality"
	"github.com/craftpage/wizard-back/internal/repository"
)

// actorSystem marks transitions performed by the service itself rather than
// a customer or admin, such as expiry sweeps.
const actorSystem = "system"

type QueueConfig struct {
	RequestTTL time.Duration
}

type QueueService struct {
	requests repository.RequestsRepository
	sessions repository.SessionsRepository
	bridge   *Bridge
	logger   *log.Logger

	requestTTL time.Duration
}

func NewQueueService(
	requests repository.RequestsRepository,
	sessions repository.SessionsRepository,
	bridge *Bridge,
	cfg QueueConfig,
	logger *log.Logger,
) *QueueService {
	ttl := cfg.RequestTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &QueueService{
		requests:   requests,
		sessions:   sessions,
		bridge:     bridge,
		logger:     logger,
		requestTTL: ttl,
	}
}

type EnqueueInput struct {
	OwnerID       string
	SessionID     string
	RequestType   domain.RequestType
	Payload       json.RawMessage
	EstimatedCost float64
}

// Enqueue creates a pending request for the moderation queue. The session
// must exist, be active, and belong to the caller.
func (s *QueueService) Enqueue(ctx context.Context, input EnqueueInput) (*domain.AiRequest, error) {
	if !input.RequestType.Valid() {
		return nil, fmt.Errorf("unknown request type %q", input.RequestType)
	}
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	session, err := s.sessions.GetSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != input.OwnerID || session.Status != domain.SessionStatusActive {
		return nil, domain.ErrNotFound
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.requestTTL)
	request := &domain.AiRequest{
		ID:             uuid.NewString(),
		OwnerID:        input.OwnerID,
		SessionID:      input.SessionID,
		RequestType:    input.RequestType,
		Status:         domain.RequestStatusPending,
		RequestPayload: append(json.RawMessage(nil), input.Payload...),
		EstimatedCost:  input.EstimatedCost,
		ExpiresAt:      &expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.requests.CreateRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return request, nil
}

// Claim assigns a pending request to an admin. Exactly one of several
// concurrent claimers wins; the rest observe a conflict carrying the winner.
func (s *QueueService) Claim(ctx context.Context, requestID, adminID string) (*domain.AiRequest, error) {
	now := time.Now().UTC()
	existing, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	// An overdue pending request belongs to the sweeper, not a claimer.
	if existing.Status == domain.RequestStatusPending &&
		existing.ExpiresAt != nil && !existing.ExpiresAt.After(now) {
		return nil, domain.ErrExpired
	}

	request, err := s.requests.ClaimRequest(ctx, requestID, adminID, now)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, adminID, "claim", request.ID, "")
	return request, nil
}

// BeginProcessing moves the claiming admin's request into active work.
func (s *QueueService) BeginProcessing(ctx context.Context, requestID, adminID string) (*domain.AiRequest, error) {
	request, err := s.requests.BeginRequest(ctx, requestID, adminID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, adminID, "begin_processing", request.ID, "")
	return request, nil
}

// Complete validates the admin-supplied result, finalizes the request, and
// merges the content back into the originating session's draft.
func (s *QueueService) Complete(
	ctx context.Context,
	requestID, adminID string,
	content json.RawMessage,
	actualCost float64,
) (*domain.AiRequest, error) {
	current, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := quality.ValidateGeneratedContent(current.RequestType, content); err != nil {
		return nil, err
	}

	request, err := s.requests.CompleteRequest(ctx, requestID, adminID, content, actualCost, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	var bridgeErr error
	if s.bridge != nil {
		bridgeErr = s.bridge.ApplyResult(ctx, request)
	}
	s.recordActivity(ctx, adminID, "complete", request.ID, "")
	if bridgeErr != nil {
		// The request stays completed; the caller learns the merge did not
		// land so the content can be re-applied.
		if s.logger != nil {
			s.logger.Printf("bridge apply failed request_id=%s err=%v", request.ID, bridgeErr)
		}
		return nil, fmt.Errorf("apply generated content: %w", bridgeErr)
	}
	return request, nil
}

// Reject declines a pending request before anyone claims it.
func (s *QueueService) Reject(ctx context.Context, requestID, adminID, reason string) (*domain.AiRequest, error) {
	request, err := s.requests.TerminateRequest(
		ctx,
		requestID,
		domain.RequestStatusRejected,
		[]domain.RequestStatus{domain.RequestStatusPending},
		adminID,
		reason,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, adminID, "reject", request.ID, reason)
	return request, nil
}

// Cancel withdraws the owner's own request. Only pending and assigned
// requests can be withdrawn; work in flight has to finish or fail.
func (s *QueueService) Cancel(ctx context.Context, requestID, ownerID string) (*domain.AiRequest, error) {
	current, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}

	return s.requests.TerminateRequest(
		ctx,
		requestID,
		domain.RequestStatusCancelled,
		[]domain.RequestStatus{domain.RequestStatusPending, domain.RequestStatusAssigned},
		ownerID,
		"cancelled by owner",
		time.Now().UTC(),
	)
}

// Fail marks an in-flight request as failed with the operator's reason.
func (s *QueueService) Fail(ctx context.Context, requestID, adminID, reason string) (*domain.AiRequest, error) {
	request, err := s.requests.TerminateRequest(
		ctx,
		requestID,
		domain.RequestStatusFailed,
		[]domain.RequestStatus{domain.RequestStatusProcessing},
		adminID,
		reason,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, adminID, "fail", request.ID, reason)
	return request, nil
}

// ReleaseClaim puts the admin's request back in the pending pool and bumps
// its retry counter.
func (s *QueueService) ReleaseClaim(ctx context.Context, requestID, adminID string) (*domain.AiRequest, error) {
	request, err := s.requests.ReleaseRequest(
		ctx,
		requestID,
		adminID,
		adminID,
		"claim released",
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, adminID, "release", request.ID, "")
	return request, nil
}

// ExpireDue fails pending requests whose deadline passed. Returns how many
// were expired; individual losers of a concurrent transition are skipped.
func (s *QueueService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.requests.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired requests: %w", err)
	}

	expired := 0
	for _, request := range due {
		_, terr := s.requests.TerminateRequest(
			ctx,
			request.ID,
			domain.RequestStatusFailed,
			[]domain.RequestStatus{domain.RequestStatusPending},
			actorSystem,
			"expired",
			now,
		)
		if terr != nil {
			if s.logger != nil {
				s.logger.Printf("expire skipped request_id=%s err=%v", request.ID, terr)
			}
			continue
		}
		expired++
	}
	return expired, nil
}

// ReleaseStale returns requests held past the claim deadline to the pending
// pool, regardless of which admin holds them.
func (s *QueueService) ReleaseStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.requests.ListStaleClaims(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale claims: %w", err)
	}

	released := 0
	for _, request := range stale {
		_, rerr := s.requests.ReleaseRequest(
			ctx,
			request.ID,
			"",
			actorSystem,
			"stale claim released",
			time.Now().UTC(),
		)
		if rerr != nil {
			if s.logger != nil {
				s.logger.Printf("stale release skipped request_id=%s err=%v", request.ID, rerr)
			}
			continue
		}
		released++
	}
	return released, nil
}

func (s *QueueService) GetRequest(ctx context.Context, requestID string) (*domain.AiRequest, error) {
	return s.requests.GetRequest(ctx, requestID)
}

func (s *QueueService) GetHistory(ctx context.Context, requestID string) ([]domain.RequestHistoryEntry, error) {
	if _, err := s.requests.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.requests.ListHistory(ctx, requestID)
}

func (s *QueueService) ListRequests(
	ctx context.Context,
	filter domain.RequestListFilter,
) ([]*domain.AiRequest, int, error) {
	return s.requests.ListRequests(ctx, filter)
}

func (s *QueueService) ListAdminActivity(
	ctx context.Context,
	adminID string,
	page, pageSize int,
) ([]domain.AdminActivityEntry, int, error) {
	return s.requests.ListAdminActivity(ctx, adminID, page, pageSize)
}

// recordActivity is best-effort: the request's own history already has the
// authoritative entry.
func (s *QueueService) recordActivity(ctx context.Context, adminID, action, requestID, details string) {
	entry := domain.AdminActivityEntry{
		AdminID:    adminID,
		Action:     action,
		TargetType: "ai_request",
		TargetID:   requestID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.requests.AppendAdminActivity(ctx, entry); err != nil && s.logger != nil {
		s.logger.Printf("admin activity append failed admin_id=%s action=%s err=%v", adminID, action, err)
	}
}
