package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
)

func newPendingRequest(t *testing.T, repo *MemoryRequestsRepository) *domain.AiRequest {
	t.Helper()
	now := time.Now().UTC()
	request := &domain.AiRequest{
		ID:             "req-1",
		OwnerID:        "owner-1",
		SessionID:      "sess-1",
		RequestType:    domain.RequestTypeHero,
		Status:         domain.RequestStatusPending,
		RequestPayload: json.RawMessage(`{"business":"bakery"}`),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.CreateRequest(context.Background(), request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return request
}

func TestConcurrentClaimHasExactlyOneWinner(t *testing.T) {
	repo := NewMemoryRequestsRepository()
	newPendingRequest(t, repo)

	const claimers = 32
	var wg sync.WaitGroup
	winners := make(chan string, claimers)
	conflicts := make(chan *domain.ConflictError, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(admin string) {
			defer wg.Done()
			_, err := repo.ClaimRequest(context.Background(), "req-1", admin, time.Now().UTC())
			if err == nil {
				winners <- admin
				return
			}
			var conflict *domain.ConflictError
			if errors.As(err, &conflict) {
				conflicts <- conflict
			}
		}("admin-" + strconv.Itoa(i))
	}
	wg.Wait()
	close(winners)
	close(conflicts)

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", len(winners))
	}
	winner := <-winners
	if len(conflicts) != claimers-1 {
		t.Fatalf("expected %d conflicts, got %d", claimers-1, len(conflicts))
	}
	for conflict := range conflicts {
		if conflict.Status != domain.RequestStatusAssigned {
			t.Fatalf("expected losers to observe assigned, got %s", conflict.Status)
		}
		if conflict.AdminID != winner {
			t.Fatalf("expected losers to see winner %s, got %s", winner, conflict.AdminID)
		}
	}
}

func TestReleaseReturnsToPendingAndBumpsRetry(t *testing.T) {
	repo := NewMemoryRequestsRepository()
	newPendingRequest(t, repo)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := repo.ClaimRequest(ctx, "req-1", "admin-1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	released, err := repo.ReleaseRequest(ctx, "req-1", "admin-1", "admin-1", "claim released", now)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != domain.RequestStatusPending {
		t.Fatalf("expected pending after release, got %s", released.Status)
	}
	if released.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", released.RetryCount)
	}
	if released.AdminID != "" || released.AssignedAt != nil {
		t.Fatalf("expected assignment cleared, got admin=%q assigned_at=%v", released.AdminID, released.AssignedAt)
	}

	// A different admin cannot release someone else's claim.
	if _, err := repo.ClaimRequest(ctx, "req-1", "admin-2", now); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	_, err = repo.ReleaseRequest(ctx, "req-1", "admin-1", "admin-1", "", now)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict for foreign release, got %v", err)
	}

	// An empty adminID releases regardless of holder.
	if _, err := repo.ReleaseRequest(ctx, "req-1", "", "system", "stale claim released", now); err != nil {
		t.Fatalf("sweep release: %v", err)
	}
}

func TestHistoryReplaysFullLifecycle(t *testing.T) {
	repo := NewMemoryRequestsRepository()
	newPendingRequest(t, repo)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := repo.ClaimRequest(ctx, "req-1", "admin-1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := repo.BeginRequest(ctx, "req-1", "admin-1", now.Add(time.Second)); err != nil {
		t.Fatalf("begin: %v", err)
	}
	completed, err := repo.CompleteRequest(ctx, "req-1", "admin-1", json.RawMessage(`{"title":"B"}`), 0.4, now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.ProcessingDurationMs != 2000 {
		t.Fatalf("expected 2000ms processing duration, got %d", completed.ProcessingDurationMs)
	}

	entries, err := repo.ListHistory(ctx, "req-1")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(entries))
	}
	if entries[0].PreviousStatus != "" || entries[0].NewStatus != domain.RequestStatusPending {
		t.Fatalf("expected creation entry first, got %+v", entries[0])
	}
	path := []domain.RequestStatus{
		domain.RequestStatusPending,
		domain.RequestStatusAssigned,
		domain.RequestStatusProcessing,
		domain.RequestStatusCompleted,
	}
	for i, entry := range entries {
		if entry.NewStatus != path[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, path[i], entry.NewStatus)
		}
		if i > 0 && entry.PreviousStatus != path[i-1] {
			t.Fatalf("entry %d: expected previous %s, got %s", i, path[i-1], entry.PreviousStatus)
		}
	}
}

func TestTerminateDistinguishesConflictFromIllegalEdge(t *testing.T) {
	repo := NewMemoryRequestsRepository()
	newPendingRequest(t, repo)
	ctx := context.Background()
	now := time.Now().UTC()

	// pending -> rejected while the caller expected pending: fine.
	if _, err := repo.TerminateRequest(ctx, "req-1", domain.RequestStatusRejected, []domain.RequestStatus{domain.RequestStatusPending}, "admin-1", "spam", now); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// rejected -> cancelled is not an edge at all.
	_, err := repo.TerminateRequest(ctx, "req-1", domain.RequestStatusCancelled, []domain.RequestStatus{domain.RequestStatusPending}, "owner-1", "", now)
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if invalid.From != domain.RequestStatusRejected || invalid.To != domain.RequestStatusCancelled {
		t.Fatalf("unexpected edge in error: %+v", invalid)
	}
}

func TestListExpiredPendingAndStaleClaims(t *testing.T) {
	repo := NewMemoryRequestsRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	for _, seed := range []struct {
		id        string
		expiresAt *time.Time
	}{
		{"req-old", &past},
		{"req-fresh", &future},
		{"req-noexp", nil},
	} {
		request := &domain.AiRequest{
			ID:          seed.id,
			OwnerID:     "owner-1",
			SessionID:   "sess-1",
			RequestType: domain.RequestTypeHero,
			Status:      domain.RequestStatusPending,
			ExpiresAt:   seed.expiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreateRequest(ctx, request); err != nil {
			t.Fatalf("create %s: %v", seed.id, err)
		}
	}

	expired, err := repo.ListExpiredPending(ctx, now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "req-old" {
		t.Fatalf("expected only req-old to be expired, got %+v", expired)
	}

	if _, err := repo.ClaimRequest(ctx, "req-fresh", "admin-1", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	stale, err := repo.ListStaleClaims(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "req-fresh" {
		t.Fatalf("expected req-fresh to be stale, got %+v", stale)
	}
}
