package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/civicrelay/civicrelay/internal/models"
)

// conversationKeyRequest identifies one conversation for admin operations.
type conversationKeyRequest struct {
	UserID  string `json:"userId"`
	Channel string `json:"channel"`
}

func (r *conversationKeyRequest) validate() error {
	if r.UserID == "" {
		return models.ErrEmptyUserID
	}
	if r.Channel == "" {
		return models.ErrEmptyChannel
	}
	return nil
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// resetHandler handles POST /conversations/reset. It clears workflow
// progress and collected data for a key while preserving history.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("resetHandler invoked", "method", r.Method)
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req conversationKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("resetHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.admin.Reset(r.Context(), req.UserID, req.Channel); err != nil {
		slog.Error("resetHandler reset failed", "error", err, "userID", req.UserID, "channel", req.Channel)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset conversation"))
		return
	}

	slog.Info("Conversation workflow reset", "userID", req.UserID, "channel", req.Channel)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Workflow reset", nil))
}

// logoutHandler handles POST /conversations/logout. It deletes all state for
// a key; the next message starts a fresh conversation.
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("logoutHandler invoked", "method", r.Method)
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req conversationKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("logoutHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.admin.Logout(r.Context(), req.UserID, req.Channel); err != nil {
		slog.Error("logoutHandler logout failed", "error", err, "userID", req.UserID, "channel", req.Channel)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to log out conversation"))
		return
	}

	slog.Info("Conversation logged out", "userID", req.UserID, "channel", req.Channel)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation removed", nil))
}

// stateHandler handles GET /conversations/state?userId=...&channel=... for
// operator inspection of a conversation document.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	req := conversationKeyRequest{
		UserID:  r.URL.Query().Get("userId"),
		Channel: r.URL.Query().Get("channel"),
	}
	if err := req.validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	state, err := s.states.Get(r.Context(), req.UserID, req.Channel)
	if err != nil {
		slog.Error("stateHandler load failed", "error", err, "userID", req.UserID, "channel", req.Channel)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation state"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}
