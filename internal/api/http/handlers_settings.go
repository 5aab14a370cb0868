package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dogetionary/internal/app"
)

type updateQueueSettingsRequest struct {
	TargetQueueSize      *int                  `json:"targetQueueSize"`
	MaxConcurrentFetches *int                  `json:"maxConcurrentFetches"`
	MaxCacheSizeMB       *int                  `json:"maxCacheSizeMB"`
	Profile              *updateProfileRequest `json:"profile"`
}

type updateProfileRequest struct {
	UserID           *string `json:"userId"`
	LearningLanguage *string `json:"learningLanguage"`
	NativeLanguage   *string `json:"nativeLanguage"`
}

func (s *Server) handleQueueSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetQueueSettings(w, r)
	case http.MethodPatch, http.MethodPut:
		s.handleUpdateQueueSettings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetQueueSettings(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "queue settings not available")
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Get())
}

func (s *Server) handleUpdateQueueSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "queue settings not available")
		return
	}

	var body updateQueueSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	current := s.settings.Get()
	if body.TargetQueueSize != nil {
		current.TargetQueueSize = *body.TargetQueueSize
	}
	if body.MaxConcurrentFetches != nil {
		current.MaxConcurrentFetches = *body.MaxConcurrentFetches
	}
	if body.MaxCacheSizeMB != nil {
		current.MaxCacheSizeMB = *body.MaxCacheSizeMB
	}
	if p := body.Profile; p != nil {
		if p.UserID != nil {
			current.Profile.UserID = strings.TrimSpace(*p.UserID)
		}
		if p.LearningLanguage != nil {
			current.Profile.LearningLanguage = strings.TrimSpace(*p.LearningLanguage)
		}
		if p.NativeLanguage != nil {
			current.Profile.NativeLanguage = strings.TrimSpace(*p.NativeLanguage)
		}
	}

	if err := s.settings.Update(current); err != nil {
		if errors.Is(err, app.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "update_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.settings.Get())
}
