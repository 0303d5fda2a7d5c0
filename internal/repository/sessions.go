package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound

	// ErrNameTaken is the repository-level uniqueness violation. The service
	// layer converts it into a DuplicateNameError with a fresh suggestion.
	ErrNameTaken = errors.New("site name already taken")
)

// SessionsRepository persists wizard sessions and the provisioned-site
// namespace that site names must stay unique against.
type SessionsRepository interface {
	CreateSession(ctx context.Context, session *domain.WizardSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.WizardSession, error)
	// SaveDraft merges fragment into the active session's draft and moves the
	// step: forward-only for advance, exact for resumeTo.
	SaveDraft(ctx context.Context, sessionID string, step int, mode domain.SaveMode, fragment domain.DraftData) (*domain.WizardSession, error)
	// MergeDraft merges fragment without touching the step. Used by the
	// session-queue bridge.
	MergeDraft(ctx context.Context, sessionID string, fragment domain.DraftData) (*domain.WizardSession, error)
	// SetSiteName assigns the session's site name, enforcing uniqueness across
	// active sessions and provisioned sites. Returns ErrNameTaken on a clash.
	SetSiteName(ctx context.Context, sessionID, name string) (*domain.WizardSession, error)
	MarkDeleted(ctx context.Context, sessionID string) error
	// Provision retires an active session and records its site. The site name
	// stays reserved.
	Provision(ctx context.Context, sessionID string, site *domain.ProvisionedSite) error
	// SiteNameVariants returns every reserved name equal to base or starting
	// with base+"-", across active sessions and provisioned sites.
	SiteNameVariants(ctx context.Context, base string) ([]string, error)
}

// MemorySessionsRepository keeps sessions in memory for tests and local runs.
type MemorySessionsRepository struct {
	mu          sync.RWMutex
	sessions    map[string]*domain.WizardSession
	provisioned map[string]*domain.ProvisionedSite
}

func NewMemorySessionsRepository() *MemorySessionsRepository {
	return &MemorySessionsRepository{
		sessions:    make(map[string]*domain.WizardSession),
		provisioned: make(map[string]*domain.ProvisionedSite),
	}
}

func (r *MemorySessionsRepository) CreateSession(_ context.Context, session *domain.WizardSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return errors.New("session id already exists")
	}
	if session.SiteName != "" && r.nameTakenLocked(session.SiteName, session.ID) {
		return ErrNameTaken
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *MemorySessionsRepository) GetSession(_ context.Context, sessionID string) (*domain.WizardSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (r *MemorySessionsRepository) SaveDraft(
	_ context.Context,
	sessionID string,
	step int,
	mode domain.SaveMode,
	fragment domain.DraftData,
) (*domain.WizardSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok || session.Status != domain.SessionStatusActive {
		return nil, ErrNotFound
	}

	session.DraftData = session.DraftData.Merge(fragment)
	if mode == domain.SaveModeResumeTo {
		session.CurrentStep = step
	} else if step > session.CurrentStep {
		session.CurrentStep = step
	}
	session.UpdatedAt = time.Now().UTC()
	return cloneSession(session), nil
}

func (r *MemorySessionsRepository) MergeDraft(
	_ context.Context,
	sessionID string,
	fragment domain.DraftData,
) (*domain.WizardSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok || session.Status != domain.SessionStatusActive {
		return nil, ErrNotFound
	}

	session.DraftData = session.DraftData.Merge(fragment)
	session.UpdatedAt = time.Now().UTC()
	return cloneSession(session), nil
}

func (r *MemorySessionsRepository) SetSiteName(
	_ context.Context,
	sessionID, name string,
) (*domain.WizardSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok || session.Status != domain.SessionStatusActive {
		return nil, ErrNotFound
	}
	if session.SiteName == name {
		return cloneSession(session), nil
	}
	if r.nameTakenLocked(name, sessionID) {
		return nil, ErrNameTaken
	}

	session.SiteName = name
	session.UpdatedAt = time.Now().UTC()
	return cloneSession(session), nil
}

func (r *MemorySessionsRepository) MarkDeleted(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.Status = domain.SessionStatusDeleted
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemorySessionsRepository) Provision(
	_ context.Context,
	sessionID string,
	site *domain.ProvisionedSite,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok || session.Status != domain.SessionStatusActive {
		return ErrNotFound
	}
	if existing, taken := r.provisioned[site.SiteName]; taken && existing.SessionID != sessionID {
		return ErrNameTaken
	}

	session.Status = domain.SessionStatusProvisioned
	session.UpdatedAt = time.Now().UTC()
	clone := *site
	r.provisioned[site.SiteName] = &clone
	return nil
}

func (r *MemorySessionsRepository) SiteNameVariants(_ context.Context, base string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	matches := func(name string) bool {
		return name == base || strings.HasPrefix(name, base+"-")
	}

	for _, session := range r.sessions {
		if session.Status == domain.SessionStatusActive && matches(session.SiteName) {
			seen[session.SiteName] = struct{}{}
		}
	}
	for name := range r.provisioned {
		if matches(name) {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *MemorySessionsRepository) nameTakenLocked(name, excludeSessionID string) bool {
	for id, session := range r.sessions {
		if id == excludeSessionID {
			continue
		}
		if session.Status == domain.SessionStatusActive && session.SiteName == name {
			return true
		}
	}
	_, taken := r.provisioned[name]
	return taken
}

func cloneSession(session *domain.WizardSession) *domain.WizardSession {
	if session == nil {
		return nil
	}
	clone := *session
	clone.DraftData = session.DraftData.Clone()
	return &clone
}
