package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"

	"github.com/craftpage/wizard-back/internal/cache"
	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/http/middleware"
	"github.com/craftpage/wizard-back/internal/policy"
	"github.com/craftpage/wizard-back/internal/prompt"
	"github.com/craftpage/wizard-back/internal/quality"
	"github.com/craftpage/wizard-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	sessions    *service.SessionsService
	queue       *service.QueueService
	prompts     *prompt.Builder
	idempotency *cache.TTLStore
	oauthStates *cache.TTLStore
	logger      *log.Logger
}

func NewAPI(
	sessions *service.SessionsService,
	queue *service.QueueService,
	prompts *prompt.Builder,
	idempotency *cache.TTLStore,
	oauthStates *cache.TTLStore,
	logger *log.Logger,
) *API {
	if idempotency == nil {
		idempotency = cache.NewTTLStore(cache.Config{})
	}
	if oauthStates == nil {
		oauthStates = cache.NewTTLStore(cache.Config{})
	}
	return &API{
		sessions:    sessions,
		queue:       queue,
		prompts:     prompts,
		idempotency: idempotency,
		oauthStates: oauthStates,
		logger:      logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeErrorDetails(w, r, statusCode, code, message, nil)
}

func writeErrorDetails(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	code, message string,
	details map[string]any,
) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	payload.Error.Details = details
	writeJSON(w, statusCode, payload)
}

// writeDomainError maps service-layer errors onto the HTTP error envelope.
// Conflicts carry the observed request state so clients can resynchronize.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *domain.ConflictError
	var invalidTransition *domain.InvalidTransitionError
	var duplicateName *domain.DuplicateNameError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "caller does not own this resource")
	case errors.As(err, &conflict):
		details := map[string]any{"status": conflict.Status}
		if conflict.AdminID != "" {
			details["admin_id"] = conflict.AdminID
		}
		writeErrorDetails(w, r, http.StatusConflict, "conflict", conflict.Reason, details)
	case errors.As(err, &invalidTransition):
		details := map[string]any{"from": invalidTransition.From, "to": invalidTransition.To}
		writeErrorDetails(w, r, http.StatusConflict, "invalid_state_transition", err.Error(), details)
	case errors.As(err, &duplicateName):
		details := map[string]any{"is_duplicate": true, "suggestion": duplicateName.Suggestion}
		writeErrorDetails(w, r, http.StatusConflict, "duplicate_site_name", err.Error(), details)
	case errors.Is(err, policy.ErrInvalidSiteName):
		writeError(w, r, http.StatusBadRequest, "invalid_site_name", err.Error())
	case errors.Is(err, quality.ErrContentRejected):
		writeError(w, r, http.StatusUnprocessableEntity, "content_rejected", err.Error())
	case errors.Is(err, domain.ErrExpired):
		writeError(w, r, http.StatusGone, "request_expired", "request expired before it was claimed")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, r, http.StatusBadGateway, "upstream_unavailable", "publish pipeline unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}

func sessionResponse(session *domain.WizardSession) map[string]any {
	response := map[string]any{
		"session_id":   session.ID,
		"owner_id":     session.OwnerID,
		"current_step": session.CurrentStep,
		"status":       session.Status,
		"draft_data":   session.DraftData,
		"created_at":   session.CreatedAt,
		"updated_at":   session.UpdatedAt,
	}
	if session.SiteName != "" {
		response["site_name"] = session.SiteName
	}
	return response
}

func requestResponse(request *domain.AiRequest) map[string]any {
	response := map[string]any{
		"request_id":   request.ID,
		"owner_id":     request.OwnerID,
		"session_id":   request.SessionID,
		"request_type": request.RequestType,
		"status":       request.Status,
		"retry_count":  request.RetryCount,
		"created_at":   request.CreatedAt,
		"updated_at":   request.UpdatedAt,
	}
	if request.AdminID != "" {
		response["admin_id"] = request.AdminID
	}
	if len(request.RequestPayload) > 0 {
		response["request_payload"] = request.RequestPayload
	}
	if len(request.GeneratedContent) > 0 {
		response["generated_content"] = request.GeneratedContent
	}
	if request.EstimatedCost > 0 {
		response["estimated_cost"] = request.EstimatedCost
	}
	if request.ActualCost > 0 {
		response["actual_cost"] = request.ActualCost
	}
	if request.ProcessingDurationMs > 0 {
		response["processing_duration_ms"] = request.ProcessingDurationMs
	}
	if request.ErrorMessage != "" {
		response["error_message"] = request.ErrorMessage
	}
	if request.ExpiresAt != nil {
		response["expires_at"] = request.ExpiresAt
	}
	if request.AssignedAt != nil {
		response["assigned_at"] = request.AssignedAt
	}
	if request.StartedAt != nil {
		response["started_at"] = request.StartedAt
	}
	if request.CompletedAt != nil {
		response["completed_at"] = request.CompletedAt
	}
	return response
}

func historyResponse(entries []domain.RequestHistoryEntry) []map[string]any {
	result := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"new_status": entry.NewStatus,
			"changed_by": entry.ChangedBy,
			"timestamp":  entry.Timestamp,
		}
		if entry.PreviousStatus != "" {
			item["previous_status"] = entry.PreviousStatus
		}
		if entry.Reason != "" {
			item["reason"] = entry.Reason
		}
		result = append(result, item)
	}
	return result
}
