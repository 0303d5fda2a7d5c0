package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/publish"
	"github.com/craftpage/wizard-back/internal/quality"
	"github.com/craftpage/wizard-back/internal/repository"
)

type queueFixture struct {
	queue    *QueueService
	sessions *repository.MemorySessionsRepository
	requests *repository.MemoryRequestsRepository
	svc      *SessionsService
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	sessionsRepo := repository.NewMemorySessionsRepository()
	requestsRepo := repository.NewMemoryRequestsRepository()
	notifier := publish.NewLogNotifier(logger)
	sessionsService := NewSessionsService(sessionsRepo, notifier, logger)
	bridge := NewBridge(sessionsRepo, notifier, logger)
	queueService := NewQueueService(requestsRepo, sessionsRepo, bridge, QueueConfig{RequestTTL: time.Hour}, logger)
	return &queueFixture{
		queue:    queueService,
		sessions: sessionsRepo,
		requests: requestsRepo,
		svc:      sessionsService,
	}
}

func (f *queueFixture) enqueue(t *testing.T, ownerID string) (*domain.WizardSession, *domain.AiRequest) {
	t.Helper()
	session, err := f.svc.CreateSession(context.Background(), ownerID, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	request, err := f.queue.Enqueue(context.Background(), EnqueueInput{
		OwnerID:     ownerID,
		SessionID:   session.ID,
		RequestType: domain.RequestTypeHero,
		Payload:     json.RawMessage(`{"business":"bakery"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return session, request
}

func TestEnqueueValidatesSessionOwnership(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()

	session, err := fixture.svc.CreateSession(ctx, "owner-1", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = fixture.queue.Enqueue(ctx, EnqueueInput{
		OwnerID:     "owner-2",
		SessionID:   session.ID,
		RequestType: domain.RequestTypeHero,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign session, got %v", err)
	}

	_, err = fixture.queue.Enqueue(ctx, EnqueueInput{
		OwnerID:     "owner-1",
		SessionID:   session.ID,
		RequestType: domain.RequestType("summary"),
	})
	if err == nil {
		t.Fatalf("expected error for unknown request type")
	}

	request, err := fixture.queue.Enqueue(ctx, EnqueueInput{
		OwnerID:     "owner-1",
		SessionID:   session.ID,
		RequestType: domain.RequestTypeHero,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if request.Status != domain.RequestStatusPending {
		t.Fatalf("expected pending, got %s", request.Status)
	}
	if request.ExpiresAt == nil || !request.ExpiresAt.After(request.CreatedAt) {
		t.Fatalf("expected expiry after creation, got %+v", request.ExpiresAt)
	}
}

func TestCompleteMergesContentIntoSessionDraft(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	session, request := fixture.enqueue(t, "owner-1")

	if _, err := fixture.queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := fixture.queue.BeginProcessing(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	completed, err := fixture.queue.Complete(ctx, request.ID, "admin-1", json.RawMessage(`{"title":"B"}`), 0.25)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.RequestStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}
	if completed.ActualCost != 0.25 {
		t.Fatalf("expected actual cost recorded, got %f", completed.ActualCost)
	}

	stored, err := fixture.sessions.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if string(stored.DraftData["hero"]) != `{"title":"B"}` {
		t.Fatalf("expected generated content in draft, got %s", stored.DraftData["hero"])
	}
	if stored.CurrentStep != 0 {
		t.Fatalf("expected step untouched by bridge, got %d", stored.CurrentStep)
	}
}

func TestCompleteRejectsInvalidContentBeforeTransition(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	_, request := fixture.enqueue(t, "owner-1")

	if _, err := fixture.queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := fixture.queue.BeginProcessing(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := fixture.queue.Complete(ctx, request.ID, "admin-1", json.RawMessage(`{"subtitle":"no title"}`), 0)
	if !errors.Is(err, quality.ErrContentRejected) {
		t.Fatalf("expected content rejection, got %v", err)
	}

	// The request is still processing and can be completed properly.
	current, err := fixture.queue.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != domain.RequestStatusProcessing {
		t.Fatalf("expected processing after rejected content, got %s", current.Status)
	}
}

func TestCompleteByWrongAdminConflicts(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	_, request := fixture.enqueue(t, "owner-1")

	if _, err := fixture.queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := fixture.queue.BeginProcessing(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := fixture.queue.Complete(ctx, request.ID, "admin-2", json.RawMessage(`{"title":"B"}`), 0)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict for wrong admin, got %v", err)
	}
	if conflict.AdminID != "admin-1" {
		t.Fatalf("expected conflict to name admin-1, got %s", conflict.AdminID)
	}
}

func TestCancelOnlyByOwnerAndOnlyBeforeProcessing(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	_, request := fixture.enqueue(t, "owner-1")

	if _, err := fixture.queue.Cancel(ctx, request.ID, "owner-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign cancel, got %v", err)
	}

	if _, err := fixture.queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Assigned requests can still be withdrawn.
	cancelled, err := fixture.queue.Cancel(ctx, request.ID, "owner-1")
	if err != nil {
		t.Fatalf("cancel assigned: %v", err)
	}
	if cancelled.Status != domain.RequestStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Processing requests cannot.
	_, request2 := fixture.enqueue(t, "owner-1")
	if _, err := fixture.queue.Claim(ctx, request2.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := fixture.queue.BeginProcessing(ctx, request2.ID, "admin-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = fixture.queue.Cancel(ctx, request2.ID, "owner-1")
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition for processing cancel, got %v", err)
	}
}

func TestRejectOnlyFromPending(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	_, request := fixture.enqueue(t, "owner-1")

	if _, err := fixture.queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := fixture.queue.Reject(ctx, request.ID, "admin-2", "spam")
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition for assigned reject, got %v", err)
	}

	_, request2 := fixture.enqueue(t, "owner-1")
	rejected, err := fixture.queue.Reject(ctx, request2.ID, "admin-1", "out of scope")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.RequestStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
}

func TestExpireDueFailsOnlyOverdueRequests(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	_, request := fixture.enqueue(t, "owner-1")

	// Not yet due: nothing happens.
	expired, err := fixture.queue.ExpireDue(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected no expiries, got %d", expired)
	}

	expired, err = fixture.queue.ExpireDue(ctx, time.Now().UTC().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected one expiry, got %d", expired)
	}

	failed, err := fixture.queue.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Status != domain.RequestStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.ErrorMessage != "expired" {
		t.Fatalf("expected expired reason, got %q", failed.ErrorMessage)
	}

	entries, err := fixture.queue.GetHistory(ctx, request.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := entries[len(entries)-1]
	if last.ChangedBy != actorSystem {
		t.Fatalf("expected system actor in history, got %s", last.ChangedBy)
	}
}

type failingMergeSessionsRepo struct {
	*repository.MemorySessionsRepository
}

func (f *failingMergeSessionsRepo) MergeDraft(
	_ context.Context,
	_ string,
	_ domain.DraftData,
) (*domain.WizardSession, error) {
	return nil, errors.New("connection reset by peer")
}

func TestCompleteSurfacesBridgeMergeFailure(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	sessionsRepo := repository.NewMemorySessionsRepository()
	requestsRepo := repository.NewMemoryRequestsRepository()
	notifier := publish.NewLogNotifier(logger)
	sessionsService := NewSessionsService(sessionsRepo, notifier, logger)
	bridge := NewBridge(&failingMergeSessionsRepo{sessionsRepo}, notifier, logger)
	queue := NewQueueService(requestsRepo, sessionsRepo, bridge, QueueConfig{RequestTTL: time.Hour}, logger)

	ctx := context.Background()
	session, err := sessionsService.CreateSession(ctx, "owner-1", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	request, err := queue.Enqueue(ctx, EnqueueInput{
		OwnerID:     "owner-1",
		SessionID:   session.ID,
		RequestType: domain.RequestTypeHero,
		Payload:     json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := queue.BeginProcessing(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := queue.Complete(ctx, request.ID, "admin-1", json.RawMessage(`{"title":"B"}`), 0); err == nil {
		t.Fatalf("expected merge failure to surface from complete")
	}

	// The terminal transition itself landed; only the draft merge is missing.
	stored, err := queue.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.RequestStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
}

func TestTerminalRequestsDropAssignee(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()

	_, cancelled := fixture.enqueue(t, "owner-1")
	if _, err := fixture.queue.Claim(ctx, cancelled.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	request, err := fixture.queue.Cancel(ctx, cancelled.ID, "owner-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if request.AdminID != "" {
		t.Fatalf("cancelled request still has assignee %q", request.AdminID)
	}

	_, failed := fixture.enqueue(t, "owner-2")
	if _, err := fixture.queue.Claim(ctx, failed.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := fixture.queue.BeginProcessing(ctx, failed.ID, "admin-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	request, err = fixture.queue.Fail(ctx, failed.ID, "admin-1", "upstream broke")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if request.AdminID != "" {
		t.Fatalf("failed request still has assignee %q", request.AdminID)
	}

	_, completed := fixture.enqueue(t, "owner-3")
	if _, err := fixture.queue.Claim(ctx, completed.ID, "admin-2"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := fixture.queue.BeginProcessing(ctx, completed.ID, "admin-2"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	request, err = fixture.queue.Complete(ctx, completed.ID, "admin-2", json.RawMessage(`{"title":"B"}`), 0)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if request.AdminID != "" {
		t.Fatalf("completed request still has assignee %q", request.AdminID)
	}

	// The actor survives in the history trail even though the row dropped it.
	entries, err := fixture.queue.GetHistory(ctx, failed.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := entries[len(entries)-1]
	if last.ChangedBy != "admin-1" {
		t.Fatalf("expected history to keep the actor, got %q", last.ChangedBy)
	}
}

func TestClaimRejectsOverdueRequest(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	session, _ := fixture.enqueue(t, "owner-1")

	overdue := time.Now().UTC().Add(-time.Minute)
	seeded := &domain.AiRequest{
		ID:          "req-overdue",
		OwnerID:     "owner-1",
		SessionID:   session.ID,
		RequestType: domain.RequestTypeHero,
		Status:      domain.RequestStatusPending,
		ExpiresAt:   &overdue,
		CreatedAt:   overdue.Add(-time.Hour),
		UpdatedAt:   overdue.Add(-time.Hour),
	}
	if err := fixture.requests.CreateRequest(ctx, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := fixture.queue.Claim(ctx, seeded.ID, "admin-1"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}

	// The request stays pending for the sweeper to fail.
	request, err := fixture.queue.GetRequest(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if request.Status != domain.RequestStatusPending {
		t.Fatalf("expected pending, got %s", request.Status)
	}
}

func TestReleaseStaleReturnsHeldRequestsToPool(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	_, request := fixture.enqueue(t, "owner-1")

	if _, err := fixture.queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	released, err := fixture.queue.ReleaseStale(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected one release, got %d", released)
	}

	current, err := fixture.queue.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != domain.RequestStatusPending || current.RetryCount != 1 {
		t.Fatalf("expected pending with retry 1, got %s retry=%d", current.Status, current.RetryCount)
	}
}

func TestAdminActivityRecordsModerationActions(t *testing.T) {
	fixture := newQueueFixture(t)
	ctx := context.Background()
	_, request := fixture.enqueue(t, "owner-1")

	if _, err := fixture.queue.Claim(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := fixture.queue.BeginProcessing(ctx, request.ID, "admin-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := fixture.queue.Complete(ctx, request.ID, "admin-1", json.RawMessage(`{"title":"B"}`), 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	entries, total, err := fixture.queue.ListAdminActivity(ctx, "admin-1", 1, 50)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 activity entries, got %d", total)
	}
	wantActions := []string{"claim", "begin_processing", "complete"}
	for i, entry := range entries {
		if entry.Action != wantActions[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, wantActions[i], entry.Action)
		}
		if entry.TargetID != request.ID {
			t.Fatalf("expected target %s, got %s", request.ID, entry.TargetID)
		}
	}
}
