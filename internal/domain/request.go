package domain

import (
	"encoding/json"
	"time"
)

type RequestType string

const (
	RequestTypeContent      RequestType = "content"
	RequestTypeServices     RequestType = "services"
	RequestTypeHero         RequestType = "hero"
	RequestTypeAbout        RequestType = "about"
	RequestTypeTestimonials RequestType = "testimonials"
	RequestTypeFAQ          RequestType = "faq"
	RequestTypeSEO          RequestType = "seo"
	RequestTypeBlog         RequestType = "blog"
	RequestTypeContact      RequestType = "contact"
	RequestTypeCustom       RequestType = "custom"
)

var requestTypes = map[RequestType]struct{}{
	RequestTypeContent:      {},
	RequestTypeServices:     {},
	RequestTypeHero:         {},
	RequestTypeAbout:        {},
	RequestTypeTestimonials: {},
	RequestTypeFAQ:          {},
	RequestTypeSEO:          {},
	RequestTypeBlog:         {},
	RequestTypeContact:      {},
	RequestTypeCustom:       {},
}

func (t RequestType) Valid() bool {
	_, ok := requestTypes[t]
	return ok
}

// DraftKey is the top-level draft section a completed request of this type
// writes into.
func (t RequestType) DraftKey() string {
	return string(t)
}

type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusAssigned   RequestStatus = "assigned"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusRejected   RequestStatus = "rejected"
	RequestStatusCancelled  RequestStatus = "cancelled"
	RequestStatusFailed     RequestStatus = "failed"
)

// legalTransitions is the full edge set of the request state machine. The
// pending->failed edge is reserved for the expiry sweep.
var legalTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:    {RequestStatusAssigned, RequestStatusCancelled, RequestStatusRejected, RequestStatusFailed},
	RequestStatusAssigned:   {RequestStatusProcessing, RequestStatusPending, RequestStatusCancelled},
	RequestStatusProcessing: {RequestStatusCompleted, RequestStatusFailed, RequestStatusPending},
}

func CanTransition(from, to RequestStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusRejected, RequestStatusCancelled, RequestStatusFailed:
		return true
	}
	return false
}

// AiRequest is one unit of content generation queued for an operator. The
// AdminID field is the only mutable lock in the system: while the request is
// assigned or processing, only that admin may advance it.
type AiRequest struct {
	ID        string
	OwnerID   string
	SessionID string

	RequestType RequestType
	Status      RequestStatus
	AdminID     string

	RequestPayload   json.RawMessage
	GeneratedContent json.RawMessage

	EstimatedCost        float64
	ActualCost           float64
	RetryCount           int
	ProcessingDurationMs int64
	ErrorMessage         string

	ExpiresAt   *time.Time
	CreatedAt   time.Time
	AssignedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// RequestHistoryEntry is the append-only audit trail. Entries for one request,
// read in order, reconstruct every transition it went through. An empty
// PreviousStatus marks the creation entry.
type RequestHistoryEntry struct {
	RequestID      string
	PreviousStatus RequestStatus
	NewStatus      RequestStatus
	ChangedBy      string
	Reason         string
	Timestamp      time.Time
}

// AdminActivityEntry records administrative side effects outside a request's
// own history: claims, completions, rejections, manual overrides.
type AdminActivityEntry struct {
	AdminID    string
	Action     string
	TargetType string
	TargetID   string
	Details    string
	Timestamp  time.Time
}

type RequestListFilter struct {
	Status   RequestStatus
	Type     RequestType
	AdminID  string
	OwnerID  string
	Page     int
	PageSize int
}
