package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
)

// RequestsRepository persists AI requests, their append-only transition
// history, and the admin activity log. Every transition method is a
// compare-and-set: it verifies the caller's expectation against the stored
// row at write time, applies the change, and appends exactly one history
// entry as part of the same atomic operation.
type RequestsRepository interface {
	CreateRequest(ctx context.Context, request *domain.AiRequest) error
	GetRequest(ctx context.Context, requestID string) (*domain.AiRequest, error)

	// ClaimRequest transitions pending -> assigned for exactly one caller.
	// Any other caller observes a ConflictError carrying the current state.
	ClaimRequest(ctx context.Context, requestID, adminID string, now time.Time) (*domain.AiRequest, error)
	// BeginRequest transitions assigned -> processing for the claiming admin.
	BeginRequest(ctx context.Context, requestID, adminID string, now time.Time) (*domain.AiRequest, error)
	// CompleteRequest transitions processing -> completed for the claiming
	// admin, storing the generated content and cost.
	CompleteRequest(ctx context.Context, requestID, adminID string, content json.RawMessage, actualCost float64, now time.Time) (*domain.AiRequest, error)
	// ReleaseRequest transitions assigned|processing -> pending and bumps the
	// retry counter. An empty adminID releases regardless of holder (sweep).
	ReleaseRequest(ctx context.Context, requestID, adminID, actor, reason string, now time.Time) (*domain.AiRequest, error)
	// TerminateRequest applies a terminal transition. expectFrom narrows the
	// states the caller believes legal; a legal-but-unexpected current state
	// yields ConflictError, an illegal edge yields InvalidTransitionError.
	TerminateRequest(ctx context.Context, requestID string, to domain.RequestStatus, expectFrom []domain.RequestStatus, actor, reason string, now time.Time) (*domain.AiRequest, error)

	ListRequests(ctx context.Context, filter domain.RequestListFilter) ([]*domain.AiRequest, int, error)
	ListHistory(ctx context.Context, requestID string) ([]domain.RequestHistoryEntry, error)

	AppendAdminActivity(ctx context.Context, entry domain.AdminActivityEntry) error
	ListAdminActivity(ctx context.Context, adminID string, page, pageSize int) ([]domain.AdminActivityEntry, int, error)

	// ListExpiredPending returns pending requests whose expiry deadline has
	// passed. ListStaleClaims returns assigned/processing requests whose
	// assignment is older than cutoff.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.AiRequest, error)
	ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]*domain.AiRequest, error)
}

// MemoryRequestsRepository is the in-memory implementation used by tests and
// local runs. A single mutex serializes transitions, which gives the same
// per-request atomicity the Postgres implementation gets from row locks.
type MemoryRequestsRepository struct {
	mu       sync.RWMutex
	requests map[string]*domain.AiRequest
	history  map[string][]domain.RequestHistoryEntry
	activity []domain.AdminActivityEntry
}

func NewMemoryRequestsRepository() *MemoryRequestsRepository {
	return &MemoryRequestsRepository{
		requests: make(map[string]*domain.AiRequest),
		history:  make(map[string][]domain.RequestHistoryEntry),
	}
}

func (r *MemoryRequestsRepository) CreateRequest(_ context.Context, request *domain.AiRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[request.ID] = cloneRequest(request)
	r.history[request.ID] = append(r.history[request.ID], domain.RequestHistoryEntry{
		RequestID:      request.ID,
		PreviousStatus: "",
		NewStatus:      request.Status,
		ChangedBy:      request.OwnerID,
		Reason:         "request created",
		Timestamp:      request.CreatedAt,
	})
	return nil
}

func (r *MemoryRequestsRepository) GetRequest(_ context.Context, requestID string) (*domain.AiRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(request), nil
}

func (r *MemoryRequestsRepository) ClaimRequest(
	_ context.Context,
	requestID, adminID string,
	now time.Time,
) (*domain.AiRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if request.Status != domain.RequestStatusPending {
		return nil, &domain.ConflictError{
			Status:  request.Status,
			AdminID: request.AdminID,
			Reason:  "request is not pending",
		}
	}

	previous := request.Status
	request.Status = domain.RequestStatusAssigned
	request.AdminID = adminID
	assignedAt := now
	request.AssignedAt = &assignedAt
	request.UpdatedAt = now
	r.appendHistoryLocked(request, previous, adminID, "")
	return cloneRequest(request), nil
}

func (r *MemoryRequestsRepository) BeginRequest(
	_ context.Context,
	requestID, adminID string,
	now time.Time,
) (*domain.AiRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if request.Status != domain.RequestStatusAssigned || request.AdminID != adminID {
		return nil, &domain.ConflictError{
			Status:  request.Status,
			AdminID: request.AdminID,
			Reason:  "request is not assigned to caller",
		}
	}

	previous := request.Status
	request.Status = domain.RequestStatusProcessing
	startedAt := now
	request.StartedAt = &startedAt
	request.UpdatedAt = now
	r.appendHistoryLocked(request, previous, adminID, "")
	return cloneRequest(request), nil
}

func (r *MemoryRequestsRepository) CompleteRequest(
	_ context.Context,
	requestID, adminID string,
	content json.RawMessage,
	actualCost float64,
	now time.Time,
) (*domain.AiRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if request.Status != domain.RequestStatusProcessing || request.AdminID != adminID {
		return nil, &domain.ConflictError{
			Status:  request.Status,
			AdminID: request.AdminID,
			Reason:  "request is not processing under caller",
		}
	}

	previous := request.Status
	request.Status = domain.RequestStatusCompleted
	request.AdminID = ""
	request.GeneratedContent = append(json.RawMessage(nil), content...)
	request.ActualCost = actualCost
	if request.StartedAt != nil {
		request.ProcessingDurationMs = now.Sub(*request.StartedAt).Milliseconds()
	}
	completedAt := now
	request.CompletedAt = &completedAt
	request.UpdatedAt = now
	r.appendHistoryLocked(request, previous, adminID, "")
	return cloneRequest(request), nil
}

func (r *MemoryRequestsRepository) ReleaseRequest(
	_ context.Context,
	requestID, adminID, actor, reason string,
	now time.Time,
) (*domain.AiRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	held := request.Status == domain.RequestStatusAssigned || request.Status == domain.RequestStatusProcessing
	if !held || (adminID != "" && request.AdminID != adminID) {
		return nil, &domain.ConflictError{
			Status:  request.Status,
			AdminID: request.AdminID,
			Reason:  "request is not claimed by caller",
		}
	}

	previous := request.Status
	request.Status = domain.RequestStatusPending
	request.AdminID = ""
	request.AssignedAt = nil
	request.StartedAt = nil
	request.RetryCount++
	request.UpdatedAt = now
	r.appendHistoryLocked(request, previous, actor, reason)
	return cloneRequest(request), nil
}

func (r *MemoryRequestsRepository) TerminateRequest(
	_ context.Context,
	requestID string,
	to domain.RequestStatus,
	expectFrom []domain.RequestStatus,
	actor, reason string,
	now time.Time,
) (*domain.AiRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}

	expected := false
	for _, from := range expectFrom {
		if request.Status == from {
			expected = true
			break
		}
	}
	if !expected {
		if !domain.CanTransition(request.Status, to) {
			return nil, &domain.InvalidTransitionError{From: request.Status, To: to}
		}
		return nil, &domain.ConflictError{
			Status:  request.Status,
			AdminID: request.AdminID,
			Reason:  "request state changed since it was read",
		}
	}

	previous := request.Status
	request.Status = to
	// Terminal rows carry no assignee; the actor stays in the history entry.
	request.AdminID = ""
	if to == domain.RequestStatusFailed {
		request.ErrorMessage = reason
	}
	request.UpdatedAt = now
	r.appendHistoryLocked(request, previous, actor, reason)
	return cloneRequest(request), nil
}

func (r *MemoryRequestsRepository) ListRequests(
	_ context.Context,
	filter domain.RequestListFilter,
) ([]*domain.AiRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	matched := make([]*domain.AiRequest, 0)
	for _, request := range r.requests {
		if filter.Status != "" && request.Status != filter.Status {
			continue
		}
		if filter.Type != "" && request.RequestType != filter.Type {
			continue
		}
		if filter.AdminID != "" && request.AdminID != filter.AdminID {
			continue
		}
		if filter.OwnerID != "" && request.OwnerID != filter.OwnerID {
			continue
		}
		matched = append(matched, cloneRequest(request))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*domain.AiRequest{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRequestsRepository) ListHistory(
	_ context.Context,
	requestID string,
) ([]domain.RequestHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.history[requestID]
	return append([]domain.RequestHistoryEntry(nil), entries...), nil
}

func (r *MemoryRequestsRepository) AppendAdminActivity(
	_ context.Context,
	entry domain.AdminActivityEntry,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activity = append(r.activity, entry)
	return nil
}

func (r *MemoryRequestsRepository) ListAdminActivity(
	_ context.Context,
	adminID string,
	page, pageSize int,
) ([]domain.AdminActivityEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	matched := make([]domain.AdminActivityEntry, 0)
	for _, entry := range r.activity {
		if adminID != "" && entry.AdminID != adminID {
			continue
		}
		matched = append(matched, entry)
	}

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []domain.AdminActivityEntry{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRequestsRepository) ListExpiredPending(
	_ context.Context,
	now time.Time,
	limit int,
) ([]*domain.AiRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	expired := make([]*domain.AiRequest, 0)
	for _, request := range r.requests {
		if request.Status != domain.RequestStatusPending {
			continue
		}
		if request.ExpiresAt == nil || request.ExpiresAt.After(now) {
			continue
		}
		expired = append(expired, cloneRequest(request))
		if limit > 0 && len(expired) >= limit {
			break
		}
	}
	return expired, nil
}

func (r *MemoryRequestsRepository) ListStaleClaims(
	_ context.Context,
	cutoff time.Time,
	limit int,
) ([]*domain.AiRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stale := make([]*domain.AiRequest, 0)
	for _, request := range r.requests {
		held := request.Status == domain.RequestStatusAssigned || request.Status == domain.RequestStatusProcessing
		if !held || request.AssignedAt == nil || request.AssignedAt.After(cutoff) {
			continue
		}
		stale = append(stale, cloneRequest(request))
		if limit > 0 && len(stale) >= limit {
			break
		}
	}
	return stale, nil
}

func (r *MemoryRequestsRepository) appendHistoryLocked(
	request *domain.AiRequest,
	previous domain.RequestStatus,
	actor, reason string,
) {
	r.history[request.ID] = append(r.history[request.ID], domain.RequestHistoryEntry{
		RequestID:      request.ID,
		PreviousStatus: previous,
		NewStatus:      request.Status,
		ChangedBy:      actor,
		Reason:         reason,
		Timestamp:      request.UpdatedAt,
	})
}

func cloneRequest(request *domain.AiRequest) *domain.AiRequest {
	if request == nil {
		return nil
	}
	clone := *request
	clone.RequestPayload = append(json.RawMessage(nil), request.RequestPayload...)
	clone.GeneratedContent = append(json.RawMessage(nil), request.GeneratedContent...)
	if request.ExpiresAt != nil {
		value := *request.ExpiresAt
		clone.ExpiresAt = &value
	}
	if request.AssignedAt != nil {
		value := *request.AssignedAt
		clone.AssignedAt = &value
	}
	if request.StartedAt != nil {
		value := *request.StartedAt
		clone.StartedAt = &value
	}
	if request.CompletedAt != nil {
		value := *request.CompletedAt
		clone.CompletedAt = &value
	}
	return &clone
}
