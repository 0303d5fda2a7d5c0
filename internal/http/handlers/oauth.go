package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/craftpage/wizard-back/internal/domain"
	"github.com/craftpage/wizard-back/internal/service"
)

type oauthCallbackRequest struct {
	SessionID      string          `json:"session_id"`
	State          string          `json:"state"`
	Step           int             `json:"step"`
	Provider       string          `json:"provider,omitempty"`
	ProviderResult json.RawMessage `json:"provider_result,omitempty"`
}

// OAuthCallback resumes a session after an external provider round-trip. The
// state token is consume-once: a replayed callback conflicts instead of
// re-applying the result.
func (api *API) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	owner := ownerID(r)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-Owner-Id header is required")
		return
	}

	var request oauthCallbackRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.State) == "" || len(request.State) < 16 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "state token is required")
		return
	}
	if request.Step < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "step must be a non-negative integer")
		return
	}

	stateKey := api.oauthStates.BuildKey("oauth", request.State)
	if _, won := api.oauthStates.PutIfAbsent(stateKey, json.RawMessage(`{"consumed":true}`)); !won {
		writeError(w, r, http.StatusConflict, "state_already_consumed", "callback state was already processed")
		return
	}

	fragment := make(domain.DraftData)
	if len(request.ProviderResult) > 0 {
		key := "oauth"
		if provider := strings.TrimSpace(request.Provider); provider != "" {
			key = "oauth_" + provider
		}
		fragment[key] = request.ProviderResult
	}

	session, err := api.sessions.SaveStep(r.Context(), service.SaveStepInput{
		SessionID: request.SessionID,
		OwnerID:   owner,
		Step:      request.Step,
		Mode:      domain.SaveModeResumeTo,
		Fragment:  fragment,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}
