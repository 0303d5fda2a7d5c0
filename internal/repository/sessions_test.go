package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
)

func newActiveSession(t *testing.T, repo *MemorySessionsRepository, id, owner string) *domain.WizardSession {
	t.Helper()
	now := time.Now().UTC()
	session := &domain.WizardSession{
		ID:          id,
		OwnerID:     owner,
		CurrentStep: 1,
		DraftData:   make(domain.DraftData),
		Status:      domain.SessionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestSaveDraftAdvanceIsForwardOnly(t *testing.T) {
	repo := NewMemorySessionsRepository()
	newActiveSession(t, repo, "sess-1", "owner-1")
	ctx := context.Background()

	saved, err := repo.SaveDraft(ctx, "sess-1", 4, domain.SaveModeAdvance, domain.DraftData{
		"hero": json.RawMessage(`{"title":"A"}`),
	})
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if saved.CurrentStep != 4 {
		t.Fatalf("expected step 4, got %d", saved.CurrentStep)
	}

	// Saving an earlier step keeps the furthest position.
	saved, err = repo.SaveDraft(ctx, "sess-1", 2, domain.SaveModeAdvance, domain.DraftData{
		"about": json.RawMessage(`{"body":"hi"}`),
	})
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if saved.CurrentStep != 4 {
		t.Fatalf("expected step to stay at 4, got %d", saved.CurrentStep)
	}

	// resumeTo lands exactly where asked, even backwards.
	saved, err = repo.SaveDraft(ctx, "sess-1", 2, domain.SaveModeResumeTo, nil)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if saved.CurrentStep != 2 {
		t.Fatalf("expected resume to step 2, got %d", saved.CurrentStep)
	}
	if len(saved.DraftData) != 2 {
		t.Fatalf("expected both fragments to survive, got %d keys", len(saved.DraftData))
	}
}

func TestSetSiteNameUniqueAcrossActiveAndProvisioned(t *testing.T) {
	repo := NewMemorySessionsRepository()
	newActiveSession(t, repo, "sess-1", "owner-1")
	newActiveSession(t, repo, "sess-2", "owner-2")
	ctx := context.Background()

	if _, err := repo.SetSiteName(ctx, "sess-1", "my-bakery"); err != nil {
		t.Fatalf("set site name: %v", err)
	}
	if _, err := repo.SetSiteName(ctx, "sess-2", "my-bakery"); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}

	// Re-assigning a session its own name is a no-op, not a clash.
	if _, err := repo.SetSiteName(ctx, "sess-1", "my-bakery"); err != nil {
		t.Fatalf("re-assign own name: %v", err)
	}

	// Deleting releases the name for other sessions.
	if err := repo.MarkDeleted(ctx, "sess-1"); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if _, err := repo.SetSiteName(ctx, "sess-2", "my-bakery"); err != nil {
		t.Fatalf("expected name released after delete, got %v", err)
	}

	// Provisioning reserves the name forever.
	if err := repo.Provision(ctx, "sess-2", &domain.ProvisionedSite{
		ID:        "site-1",
		OwnerID:   "owner-2",
		SessionID: "sess-2",
		SiteName:  "my-bakery",
	}); err != nil {
		t.Fatalf("provision: %v", err)
	}
	newActiveSession(t, repo, "sess-3", "owner-3")
	if _, err := repo.SetSiteName(ctx, "sess-3", "my-bakery"); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected provisioned name to stay reserved, got %v", err)
	}
}

func TestSiteNameVariantsMatchesBaseAndSuffixes(t *testing.T) {
	repo := NewMemorySessionsRepository()
	ctx := context.Background()

	for i, name := range []string{"my-bakery", "my-bakery-1", "my-bakery-7", "my-bakeryx"} {
		id := "sess-" + string(rune('a'+i))
		newActiveSession(t, repo, id, "owner-1")
		if _, err := repo.SetSiteName(ctx, id, name); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	variants, err := repo.SiteNameVariants(ctx, "my-bakery")
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	want := []string{"my-bakery", "my-bakery-1", "my-bakery-7"}
	if len(variants) != len(want) {
		t.Fatalf("expected %v, got %v", want, variants)
	}
	for i, name := range want {
		if variants[i] != name {
			t.Fatalf("expected %v, got %v", want, variants)
		}
	}
}

func TestGetSessionClonesDraft(t *testing.T) {
	repo := NewMemorySessionsRepository()
	newActiveSession(t, repo, "sess-1", "owner-1")
	ctx := context.Background()

	if _, err := repo.SaveDraft(ctx, "sess-1", 1, domain.SaveModeAdvance, domain.DraftData{
		"hero": json.RawMessage(`{"title":"A"}`),
	}); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	first, err := repo.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.DraftData["hero"][2] = 'X'

	second, err := repo.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(second.DraftData["hero"]) != `{"title":"A"}` {
		t.Fatalf("repository leaked internal state: %s", second.DraftData["hero"])
	}
}
