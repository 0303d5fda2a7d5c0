package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/policy"
	"github.com/craftpage/wizard-back/internal/publish"
	"github.com/craftpage/wizard-back/internal/repository"
)

// draftSiteNameKey is the draft section that carries the chosen site name.
// Saving it routes through the uniqueness check before the draft merge.
const draftSiteNameKey = "siteName"

type SessionsService struct {
	repo     repository.SessionsRepository
	notifier publish.Notifier
	logger   *log.Logger
}

func NewSessionsService(
	repo repository.SessionsRepository,
	notifier publish.Notifier,
	logger *log.Logger,
) *SessionsService {
	return &SessionsService{repo: repo, notifier: notifier, logger: logger}
}

func (s *SessionsService) CreateSession(
	ctx context.Context,
	ownerID string,
	initialDraft domain.DraftData,
) (*domain.WizardSession, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	now := time.Now().UTC()
	session := &domain.WizardSession{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		CurrentStep: 0,
		DraftData:   initialDraft.Clone(),
		Status:      domain.SessionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if session.DraftData == nil {
		session.DraftData = make(domain.DraftData)
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ContinueSession loads a session for its owner to resume. Sessions owned by
// someone else and non-active sessions are indistinguishable from missing
// ones.
func (s *SessionsService) ContinueSession(
	ctx context.Context,
	sessionID, ownerID string,
) (*domain.WizardSession, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID || session.Status != domain.SessionStatusActive {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

type SaveStepInput struct {
	SessionID string
	OwnerID   string
	Step      int
	Mode      domain.SaveMode
	Fragment  domain.DraftData
}

// SaveStep merges one step's fragment into the session draft. If the fragment
// carries a site name it is normalized, validated, and reserved first; a
// clash aborts the whole save with a fresh suggestion.
func (s *SessionsService) SaveStep(ctx context.Context, input SaveStepInput) (*domain.WizardSession, error) {
	if input.Step < 0 {
		return nil, fmt.Errorf("step must not be negative")
	}
	mode := input.Mode
	if mode == "" {
		mode = domain.SaveModeAdvance
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown save mode %q", input.Mode)
	}

	if _, err := s.ContinueSession(ctx, input.SessionID, input.OwnerID); err != nil {
		return nil, err
	}

	fragment := input.Fragment.Clone()
	if fragment == nil {
		fragment = make(domain.DraftData)
	}

	if raw, ok := fragment[draftSiteNameKey]; ok {
		name, err := s.reserveSiteName(ctx, input.SessionID, raw)
		if err != nil {
			return nil, err
		}
		encoded, _ := json.Marshal(name)
		fragment[draftSiteNameKey] = encoded
	}

	session, err := s.repo.SaveDraft(ctx, input.SessionID, input.Step, mode, fragment)
	if err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}

	s.notify(session, publish.SourceStepSave, fragmentKeys(fragment))
	return session, nil
}

// CheckDuplicateName reports whether a candidate name is taken and, if so,
// the lowest unreserved numbered variant above every existing one.
func (s *SessionsService) CheckDuplicateName(
	ctx context.Context,
	candidate string,
) (*domain.DuplicateCheckResult, error) {
	name := policy.NormalizeSiteName(candidate)
	if err := policy.ValidateSiteName(name); err != nil {
		return nil, err
	}

	taken, suggestion, err := s.resolveName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !taken {
		return &domain.DuplicateCheckResult{IsDuplicate: false}, nil
	}
	return &domain.DuplicateCheckResult{IsDuplicate: true, Suggestion: suggestion}, nil
}

// DeleteSession soft-deletes an owner's session, releasing its site name for
// reuse. Deleting an already-deleted session is a no-op.
func (s *SessionsService) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerID != ownerID {
		return domain.ErrForbidden
	}
	if session.Status == domain.SessionStatusDeleted {
		return nil
	}
	if session.Status != domain.SessionStatusActive {
		return domain.ErrNotFound
	}
	return s.repo.MarkDeleted(ctx, sessionID)
}

// ProvisionSession turns a finished draft into a live site record. The
// session must have a reserved site name; its name stays taken forever.
func (s *SessionsService) ProvisionSession(
	ctx context.Context,
	sessionID, ownerID string,
) (*domain.ProvisionedSite, error) {
	session, err := s.ContinueSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	if session.SiteName == "" {
		return nil, fmt.Errorf("%w: session has no site name", policy.ErrInvalidSiteName)
	}

	site := &domain.ProvisionedSite{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		SessionID:     sessionID,
		SiteName:      session.SiteName,
		ProvisionedAt: time.Now().UTC(),
	}
	if err := s.repo.Provision(ctx, sessionID, site); err != nil {
		if errors.Is(err, repository.ErrNameTaken) {
			return nil, s.duplicateError(ctx, session.SiteName)
		}
		return nil, fmt.Errorf("provision session: %w", err)
	}

	session.Status = domain.SessionStatusProvisioned
	s.notify(session, publish.SourceProvision, nil)
	return site, nil
}

// reserveSiteName normalizes, validates, and assigns the candidate to the
// session. On a clash (including one lost to a concurrent writer) it returns
// a DuplicateNameError built from the namespace as it stands now.
func (s *SessionsService) reserveSiteName(
	ctx context.Context,
	sessionID string,
	raw json.RawMessage,
) (string, error) {
	var candidate string
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return "", fmt.Errorf("%w: site name must be a string", policy.ErrInvalidSiteName)
	}

	name := policy.NormalizeSiteName(candidate)
	if err := policy.ValidateSiteName(name); err != nil {
		return "", err
	}

	if _, err := s.repo.SetSiteName(ctx, sessionID, name); err != nil {
		if errors.Is(err, repository.ErrNameTaken) {
			return "", s.duplicateError(ctx, name)
		}
		return "", fmt.Errorf("set site name: %w", err)
	}
	return name, nil
}

func (s *SessionsService) duplicateError(ctx context.Context, name string) error {
	_, suggestion, err := s.resolveName(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve name suggestion: %w", err)
	}
	return &domain.DuplicateNameError{Name: name, Suggestion: suggestion}
}

// resolveName scans every reserved variant of name (base or base-N) and
// returns whether the base itself is taken plus base-(maxN+1) as suggestion.
func (s *SessionsService) resolveName(ctx context.Context, name string) (bool, string, error) {
	variants, err := s.repo.SiteNameVariants(ctx, name)
	if err != nil {
		return false, "", fmt.Errorf("list name variants: %w", err)
	}

	taken := false
	maxSuffix := 0
	for _, variant := range variants {
		if variant == name {
			taken = true
			continue
		}
		suffix := strings.TrimPrefix(variant, name+"-")
		n, convErr := strconv.Atoi(suffix)
		if convErr != nil || n < 1 {
			continue
		}
		if n > maxSuffix {
			maxSuffix = n
		}
	}
	return taken, fmt.Sprintf("%s-%d", name, maxSuffix+1), nil
}

func (s *SessionsService) notify(session *domain.WizardSession, source string, keys []string) {
	if s.notifier == nil {
		return
	}

	event := publish.SiteEvent{
		SessionID:   session.ID,
		SiteName:    session.SiteName,
		Source:      source,
		UpdatedKeys: keys,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.notifier.NotifySiteUpdated(context.Background(), event); err != nil && s.logger != nil {
		s.logger.Printf("site update notify failed session_id=%s err=%v", session.ID, err)
	}
}

func fragmentKeys(fragment domain.DraftData) []string {
	keys := make([]string, 0, len(fragment))
	for key := range fragment {
		keys = append(keys, key)
	}
	return keys
}
