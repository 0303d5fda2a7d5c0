package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/service"
)

// ownerID reads the caller's identity from the X-Owner-Id header. Customer
// endpoints scope every lookup by it.
func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Owner-Id"))
}

type createSessionRequest struct {
	InitialDraft domain.DraftData `json:"initial_draft,omitempty"`
}

func (api *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
		return
	}

	var request createSessionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &request); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
			return
		}
	}

	session, err := api.sessions.CreateSession(r.Context(), owner, request.InitialDraft)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

// Sessions dispatches /v1/sessions/{id} and its sub-resources.
func (api *API) Sessions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		api.continueSession(w, r, sessionID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		api.deleteSession(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "steps" && r.Method == http.MethodPost:
		api.saveStep(w, r, sessionID, parts[2])
	case len(parts) == 2 && parts[1] == "provision" && r.Method == http.MethodPost:
		api.provisionSession(w, r, sessionID)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) continueSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
		return
	}

	session, err := api.sessions.ContinueSession(r.Context(), sessionID, owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (api *API) deleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
		return
	}

	if err := api.sessions.DeleteSession(r.Context(), sessionID, owner); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "status": domain.SessionStatusDeleted})
}

type saveStepRequest struct {
	Mode domain.SaveMode  `json:"mode,omitempty"`
	Data domain.DraftData `json:"data"`
}

func (api *API) saveStep(w http.ResponseWriter, r *http.Request, sessionID, rawStep string) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
		return
	}
	step, err := strconv.Atoi(rawStep)
	if err != nil || step < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "step must be a non-negative integer")
		return
	}

	var request saveStepRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if request.Mode != "" && !request.Mode.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "mode must be advance or resumeTo")
		return
	}

	session, err := api.sessions.SaveStep(r.Context(), service.SaveStepInput{
		SessionID: sessionID,
		OwnerID:   owner,
		Step:      step,
		Mode:      request.Mode,
		Fragment:  request.Data,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (api *API) provisionSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
		return
	}

	site, err := api.sessions.ProvisionSession(r.Context(), sessionID, owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"site_id":        site.ID,
		"session_id":     site.SessionID,
		"site_name":      site.SiteName,
		"provisioned_at": site.ProvisionedAt,
	})
}

type checkDuplicateRequest struct {
	SiteName string `json:"site_name"`
}

func (api *API) CheckDuplicateName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request checkDuplicateRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.SiteName) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "site_name is required")
		return
	}

	result, err := api.sessions.CheckDuplicateName(r.Context(), request.SiteName)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	response := map[string]any{"is_duplicate": result.IsDuplicate}
	if result.IsDuplicate {
		response["suggestion"] = result.Suggestion
	}
	writeJSON(w, http.StatusOK, response)
}
