package apihttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"dogetionary/internal/domain"
)

const defaultPurgeDays = 7

type preloadRequest struct {
	VideoIDs []int64 `json:"videoIds"`
}

type preloadResponse struct {
	Accepted int `json:"accepted"`
}

type videoCacheResponse struct {
	TotalBytes int64                    `json:"totalBytes"`
	MaxBytes   int64                    `json:"maxBytes"`
	Entries    []domain.VideoCacheEntry `json:"entries"`
}

type purgeResponse struct {
	Removed int `json:"removed"`
}

// handleVideos routes /videos/preload, /videos/{id}, /videos/{id}/state and
// /videos/{id}/fetch.
func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	if s.videos == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "video downloads are not configured")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/videos/"), "/")
	if rest == "preload" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePreload(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	id, ok := parseVideoID(parts[0])
	if !ok || len(parts) > 2 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid video id")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleServeVideo(w, r, id)
		return
	}

	switch parts[1] {
	case "state":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, s.videos.State(id))
	case "fetch":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleFetchVideo(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown video action")
	}
}

func (s *Server) handleFetchVideo(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, cancel := context.WithTimeout(r.Context(), s.fetchTimeout)
	defer cancel()
	if _, err := s.videos.FetchVideo(ctx, id); err != nil {
		if ctx.Err() != nil {
			// Still downloading; the client can poll the state.
			writeJSON(w, http.StatusAccepted, s.videos.State(id))
			return
		}
		s.logger.Warn("video fetch failed", slog.Int64("videoId", id), slog.String("error", err.Error()))
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.videos.State(id))
}

func (s *Server) handleServeVideo(w http.ResponseWriter, r *http.Request, id int64) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "video cache is not configured")
		return
	}
	path, ok := s.cache.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "video not cached")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	var body preloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	ids := make([]int64, 0, len(body.VideoIDs))
	for _, id := range body.VideoIDs {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "videoIds is required")
		return
	}
	s.videos.PreloadVideos(ids)
	writeJSON(w, http.StatusAccepted, preloadResponse{Accepted: len(ids)})
}

// handleVideoCache serves GET/DELETE /cache/videos and POST /cache/videos/purge.
func (s *Server) handleVideoCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "video cache is not configured")
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/cache/videos"), "/")
	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, videoCacheResponse{
				TotalBytes: s.cache.TotalSize(),
				MaxBytes:   s.cache.MaxBytes(),
				Entries:    s.cache.Entries(),
			})
		case http.MethodDelete:
			s.handleClearVideoCache(w)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "purge":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePurge(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown cache action")
	}
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	days := defaultPurgeDays
	if raw := strings.TrimSpace(r.URL.Query().Get("olderThanDays")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid olderThanDays")
			return
		}
		days = v
	}
	removed := s.cache.PurgeOlderThan(days)
	if removed > 0 && s.videos != nil {
		s.videos.Forget()
	}
	writeJSON(w, http.StatusOK, purgeResponse{Removed: removed})
}

func (s *Server) handleClearVideoCache(w http.ResponseWriter) {
	if err := s.cache.ClearAll(); err != nil {
		s.logger.Error("video cache clear failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cache_error", err.Error())
		return
	}
	if s.videos != nil {
		s.videos.Forget()
	}
	w.WriteHeader(http.StatusNoContent)
}
