package apihttp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"dogetionary/internal/domain"
	"dogetionary/internal/usecase"
)

const maxPriorityBatch = 50

type priorityRequest struct {
	TriggeringWord string                  `json:"triggeringWord"`
	Questions      []domain.ReviewQuestion `json:"questions"`
}

type priorityAccepted struct {
	GroupID uuid.UUID `json:"groupId"`
}

type priorityFirstReadyEvent struct {
	GroupID  uuid.UUID             `json:"groupId"`
	Question domain.ReviewQuestion `json:"question"`
}

type priorityProgressEvent struct {
	GroupID uuid.UUID `json:"groupId"`
	Ready   int       `json:"ready"`
	Total   int       `json:"total"`
}

type refillResponse struct {
	Started int `json:"started"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.queue.State())
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/queue/"), "/")
	switch action {
	case "peek":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePeek(w)
	case "pop":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePop(w)
	case "clear":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleClear(w, r)
	case "refresh":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.queue.ForceRefresh()
		writeJSON(w, http.StatusOK, s.queue.State())
	case "refill":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, refillResponse{Started: s.queue.RefillIfNeeded()})
	case "priority":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePriority(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown queue action")
	}
}

func (s *Server) handlePeek(w http.ResponseWriter) {
	q, ok := s.queue.Peek()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handlePop(w http.ResponseWriter) {
	q, ok := s.queue.Pop()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	preserveFirst, err := parseBoolQuery(r, "preserveFirst")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid preserveFirst")
		return
	}
	s.queue.Clear(preserveFirst)
	writeJSON(w, http.StatusOK, s.queue.State())
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	var body priorityRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	body.TriggeringWord = strings.TrimSpace(body.TriggeringWord)
	if body.TriggeringWord == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "triggeringWord is required")
		return
	}
	if len(body.Questions) > maxPriorityBatch {
		writeError(w, http.StatusBadRequest, "invalid_request", "too many questions")
		return
	}
	for _, q := range body.Questions {
		if err := q.Validate(); err != nil {
			writeUseCaseError(w, err)
			return
		}
	}

	// Callbacks run on one goroutine per group and may fire before
	// StreamAppendToPriorityQueue returns the id.
	idCh := make(chan uuid.UUID, 1)
	var groupID uuid.UUID
	resolve := func() uuid.UUID {
		if groupID == uuid.Nil {
			groupID = <-idCh
		}
		return groupID
	}
	cb := usecase.StreamCallbacks{
		OnFirstReady: func(q domain.ReviewQuestion) {
			s.hub.Publish("priority_first_ready", priorityFirstReadyEvent{GroupID: resolve(), Question: q})
		},
		OnProgress: func(ready, total int) {
			s.hub.Publish("priority_progress", priorityProgressEvent{GroupID: resolve(), Ready: ready, Total: total})
		},
		OnComplete: func(group domain.SearchGroup) {
			s.hub.Publish("priority_complete", group)
		},
	}
	id := s.queue.StreamAppendToPriorityQueue(body.TriggeringWord, body.Questions, cb)
	idCh <- id

	s.logger.Info("priority search accepted",
		slog.String("groupId", id.String()),
		slog.String("word", body.TriggeringWord),
		slog.Int("items", len(body.Questions)),
	)
	writeJSON(w, http.StatusAccepted, priorityAccepted{GroupID: id})
}
