package domain

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionStatusActive      SessionStatus = "active"
	SessionStatusProvisioned SessionStatus = "provisioned"
	SessionStatusDeleted     SessionStatus = "deleted"
)

// SaveMode distinguishes a normal forward save from an explicit resume after
// an external round-trip. Forward saves never move the step backwards; a
// resume lands on exactly the step the round-trip persisted.
type SaveMode string

const (
	SaveModeAdvance  SaveMode = "advance"
	SaveModeResumeTo SaveMode = "resumeTo"
)

func (m SaveMode) Valid() bool {
	return m == SaveModeAdvance || m == SaveModeResumeTo
}

// DraftData is the wizard's working document, keyed by content section.
type DraftData map[string]json.RawMessage

func (d DraftData) Clone() DraftData {
	if d == nil {
		return nil
	}
	clone := make(DraftData, len(d))
	for key, value := range d {
		clone[key] = append(json.RawMessage(nil), value...)
	}
	return clone
}

// Merge overwrites top-level keys from fragment into d. Nested values are not
// merged; the most recent writer of a key wins.
func (d DraftData) Merge(fragment DraftData) DraftData {
	merged := d.Clone()
	if merged == nil {
		merged = make(DraftData, len(fragment))
	}
	for key, value := range fragment {
		merged[key] = append(json.RawMessage(nil), value...)
	}
	return merged
}

// WizardSession is a customer's resumable site-configuration draft.
type WizardSession struct {
	ID          string
	OwnerID     string
	SiteName    string
	CurrentStep int
	DraftData   DraftData
	Status      SessionStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProvisionedSite records a draft that was turned into a real site. Its name
// stays reserved in the duplicate-check namespace forever.
type ProvisionedSite struct {
	ID            string
	OwnerID       string
	SessionID     string
	SiteName      string
	ProvisionedAt time.Time
}

type DuplicateCheckResult struct {
	IsDuplicate bool
	Suggestion  string
}
