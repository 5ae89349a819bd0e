package httpapi

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/lukasbauer/voicecoach/internal/store"
)

// handlePushRegister registers a device push token
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var body struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}

	if err := sonic.ConfigStd.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required", "")
		return
	}

	if !store.ValidPlatform(body.Platform) {
		writeError(w, http.StatusBadRequest, "platform must be 'ios' or 'android'", "")
		return
	}

	if !r.store.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push tokens require a database", "")
		return
	}

	platform := strings.ToLower(body.Platform)
	if err := r.store.RegisterPushToken(req.Context(), user.ID, body.Token, platform); err != nil {
		r.logger.Printf("push: failed to register token: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to register token", "")
		return
	}

	r.logger.Printf("push: registered %s token for user %s", platform, user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushUnregister removes a device push token
func (r *Router) handlePushUnregister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var body struct {
		Token string `json:"token"`
	}

	if err := sonic.ConfigStd.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required", "")
		return
	}

	if !r.store.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push tokens require a database", "")
		return
	}

	if err := r.store.UnregisterPushToken(req.Context(), body.Token); err != nil {
		r.logger.Printf("push: failed to unregister token: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to unregister token", "")
		return
	}

	r.logger.Printf("push: unregistered token for user %s", user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
