package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/service"
)

func adminID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Admin-Id"))
}

// Queue dispatches the /v1/queue collection: enqueue and listing.
func (api *API) Queue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.enqueue(w, r)
	case http.MethodGet:
		api.listRequests(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

type enqueueRequest struct {
	SessionID     string          `json:"session_id"`
	RequestType   string          `json:"request_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EstimatedCost float64         `json:"estimated_cost,omitempty"`
}

func (api *API) enqueue(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
		return
	}

	// Idempotency-Key is optional; when present it must carry enough entropy
	// to avoid cross-client collisions.
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && len(idempotencyKey) < 16 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key must be at least 16 characters")
		return
	}

	var request enqueueRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	requestType := domain.RequestType(request.RequestType)
	if !requestType.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown request_type")
		return
	}

	payloadHash := hashPayload(request)
	var cacheKey string
	if idempotencyKey != "" {
		cacheKey = api.idempotency.BuildKey("enqueue", owner, idempotencyKey)
		if entry, exists := api.idempotency.Get(cacheKey); exists {
			var stored struct {
				PayloadHash uint64 `json:"payload_hash"`
				RequestID   string `json:"request_id"`
			}
			if err := json.Unmarshal(entry.Value, &stored); err == nil {
				if stored.PayloadHash != payloadHash {
					writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
					return
				}
				writeJSON(w, http.StatusAccepted, map[string]any{
					"request_id":  stored.RequestID,
					"status":      domain.RequestStatusPending,
					"status_url":  "/v1/queue/" + stored.RequestID,
					"accepted_at": entry.CreatedAt.Format(time.RFC3339Nano),
				})
				return
			}
		}
	}

	queued, err := api.queue.Enqueue(r.Context(), service.EnqueueInput{
		OwnerID:       owner,
		SessionID:     request.SessionID,
		RequestType:   requestType,
		Payload:       request.Payload,
		EstimatedCost: request.EstimatedCost,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if idempotencyKey != "" {
		stored, _ := json.Marshal(map[string]any{
			"payload_hash": payloadHash,
			"request_id":   queued.ID,
		})
		api.idempotency.Set(cacheKey, stored)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id":  queued.ID,
		"status":      queued.Status,
		"status_url":  "/v1/queue/" + queued.ID,
		"accepted_at": queued.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":  queued.ExpiresAt,
	})
}

func (api *API) listRequests(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.RequestListFilter{
		Status:   domain.RequestStatus(strings.TrimSpace(query.Get("status"))),
		Type:     domain.RequestType(strings.TrimSpace(query.Get("type"))),
		AdminID:  strings.TrimSpace(query.Get("admin_id")),
		OwnerID:  strings.TrimSpace(query.Get("owner_id")),
		Page:     parsePositiveInt(query.Get("page"), 1),
		PageSize: parsePositiveInt(query.Get("page_size"), 20),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown type filter")
		return
	}

	requests, total, err := api.queue.ListRequests(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(requests))
	for _, request := range requests {
		items = append(items, requestResponse(request))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

// QueueItem dispatches /v1/queue/{id}, its history, and its transitions.
func (api *API) QueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/queue/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	requestID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		api.getRequest(w, r, requestID)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		api.getHistory(w, r, requestID)
	case len(parts) == 2 && r.Method == http.MethodPost:
		api.transition(w, r, requestID, parts[1])
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) getRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	request, err := api.queue.GetRequest(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse(request))
}

func (api *API) getHistory(w http.ResponseWriter, r *http.Request, requestID string) {
	entries, err := api.queue.GetHistory(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"history":    historyResponse(entries),
	})
}

type transitionRequest struct {
	Reason     string          `json:"reason,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	ActualCost float64         `json:"actual_cost,omitempty"`
}

func (api *API) transition(w http.ResponseWriter, r *http.Request, requestID, action string) {
	var body transitionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
			return
		}
	}

	admin := adminID(r)
	needsAdmin := action != "cancel"
	if needsAdmin && admin == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Admin-Id header is required")
		return
	}

	var (
		request *domain.AiRequest
		err     error
	)
	switch action {
	case "claim":
		request, err = api.queue.Claim(r.Context(), requestID, admin)
		if err == nil {
			response := requestResponse(request)
			if api.prompts != nil {
				response["operator_prompt"] = api.prompts.OperatorPrompt(request)
			}
			writeJSON(w, http.StatusOK, response)
			return
		}
	case "begin":
		request, err = api.queue.BeginProcessing(r.Context(), requestID, admin)
	case "complete":
		if len(body.Content) == 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "content is required")
			return
		}
		request, err = api.queue.Complete(r.Context(), requestID, admin, body.Content, body.ActualCost)
	case "reject":
		request, err = api.queue.Reject(r.Context(), requestID, admin, body.Reason)
	case "fail":
		if strings.TrimSpace(body.Reason) == "" {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "reason is required")
			return
		}
		request, err = api.queue.Fail(r.Context(), requestID, admin, body.Reason)
	case "release":
		request, err = api.queue.ReleaseClaim(r.Context(), requestID, admin)
	case "cancel":
		owner := ownerID(r)
		if owner == "" {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
			return
		}
		request, err = api.queue.Cancel(r.Context(), requestID, owner)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown action")
		return
	}

	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse(request))
}

// AdminActivity serves the administrative audit feed.
func (api *API) AdminActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	query := r.URL.Query()
	page := parsePositiveInt(query.Get("page"), 1)
	pageSize := parsePositiveInt(query.Get("page_size"), 50)

	entries, total, err := api.queue.ListAdminActivity(r.Context(), strings.TrimSpace(query.Get("admin_id")), page, pageSize)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"admin_id":    entry.AdminID,
			"action":      entry.Action,
			"target_type": entry.TargetType,
			"target_id":   entry.TargetID,
			"timestamp":   entry.Timestamp,
		}
		if entry.Details != "" {
			item["details"] = entry.Details
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
