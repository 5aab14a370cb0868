package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"dogetionary/internal/app"
	"dogetionary/internal/domain"
	"dogetionary/internal/services/video"
	"dogetionary/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUseCaseError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "video not found")
		return
	}
	if errors.Is(err, domain.ErrInvalidQuestion) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid question")
		return
	}
	if errors.Is(err, app.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid queue settings")
		return
	}
	if errors.Is(err, video.ErrEvictedOnWrite) {
		writeError(w, http.StatusInsufficientStorage, "cache_full", err.Error())
		return
	}
	if errors.Is(err, usecase.ErrSource) {
		writeError(w, http.StatusBadGateway, "source_error", err.Error())
		return
	}
	if errors.Is(err, usecase.ErrRepository) {
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// parseVideoID accepts positive decimal ids only.
func parseVideoID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseBoolQuery(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
