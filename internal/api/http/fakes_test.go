package apihttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"dogetionary/internal/app"
	"dogetionary/internal/domain"
	"dogetionary/internal/usecase"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rec.Body.String())
	}
	return env
}

func word(w string) domain.ReviewQuestion {
	return domain.ReviewQuestion{Word: w, QuestionType: domain.QuestionRecognition}
}

// ---- fake queue ----

type fakeQueue struct {
	mu            sync.Mutex
	priority      []domain.ReviewQuestion
	background    []domain.ReviewQuestion
	lastError     string
	clears        []bool
	refreshes     int
	refillStarted int
	groupID       uuid.UUID
	streamed      []domain.ReviewQuestion
	trigger       string
}

func (f *fakeQueue) State() domain.QueueState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.QueueState{
		Priority:   append([]domain.ReviewQuestion(nil), f.priority...),
		Background: append([]domain.ReviewQuestion(nil), f.background...),
		HasMore:    true,
		LastError:  f.lastError,
	}
}

func (f *fakeQueue) Peek() (domain.ReviewQuestion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.priority) > 0 {
		return f.priority[0], true
	}
	if len(f.background) > 0 {
		return f.background[0], true
	}
	return domain.ReviewQuestion{}, false
}

func (f *fakeQueue) Pop() (domain.ReviewQuestion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.priority) > 0 {
		q := f.priority[0]
		f.priority = f.priority[1:]
		return q, true
	}
	if len(f.background) > 0 {
		q := f.background[0]
		f.background = f.background[1:]
		return q, true
	}
	return domain.ReviewQuestion{}, false
}

func (f *fakeQueue) Clear(preserveFirst bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, preserveFirst)
	f.priority = nil
	f.background = nil
}

func (f *fakeQueue) ForceRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeQueue) RefillIfNeeded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refillStarted
}

func (f *fakeQueue) StreamAppendToPriorityQueue(triggeringWord string, questions []domain.ReviewQuestion, cb usecase.StreamCallbacks) uuid.UUID {
	f.mu.Lock()
	if f.groupID == uuid.Nil {
		f.groupID = uuid.New()
	}
	id := f.groupID
	f.trigger = triggeringWord
	f.streamed = append(f.streamed, questions...)
	f.mu.Unlock()

	go func() {
		for i, q := range questions {
			if i == 0 {
				cb.OnFirstReady(q)
			}
			cb.OnProgress(i+1, len(questions))
		}
		cb.OnComplete(domain.SearchGroup{ID: id, TriggeringWord: triggeringWord, TotalExpected: len(questions), Ready: len(questions)})
	}()
	return id
}

func (f *fakeQueue) ActiveSearchGroups() int { return 0 }

func (f *fakeQueue) GroupID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groupID
}

// ---- fake video coordinator ----

type fakeVideos struct {
	mu       sync.Mutex
	states   map[int64]domain.DownloadState
	fetchErr error
	block    chan struct{}
	preload  [][]int64
	forgets  int
}

func newFakeVideos() *fakeVideos {
	return &fakeVideos{states: make(map[int64]domain.DownloadState)}
}

func (f *fakeVideos) State(id int64) domain.DownloadState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[id]; ok {
		return st
	}
	return domain.NotStarted(id)
}

func (f *fakeVideos) FetchVideo(ctx context.Context, id int64) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		f.states[id] = domain.DownloadState{VideoID: id, Status: domain.DownloadFailed, Error: f.fetchErr.Error(), RetryCount: 1}
		return "", f.fetchErr
	}
	path := "/tmp/video_" + uuid.NewString()
	f.states[id] = domain.DownloadState{VideoID: id, Status: domain.DownloadCached, Path: path}
	return path, nil
}

func (f *fakeVideos) PreloadVideos(ids []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preload = append(f.preload, append([]int64(nil), ids...))
}

func (f *fakeVideos) Forget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets++
}

// ---- fake video cache ----

type fakeCache struct {
	mu       sync.Mutex
	files    map[int64]string
	purged   []int
	purgeN   int
	cleared  bool
	clearErr error
}

func newFakeCache(t *testing.T, content map[int64]string) *fakeCache {
	t.Helper()
	dir := t.TempDir()
	c := &fakeCache{files: make(map[int64]string)}
	for id, body := range content {
		path := filepath.Join(dir, "video_"+uuid.NewString()+".mp4")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		c.files[id] = path
	}
	return c
}

func (c *fakeCache) Get(id int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.files[id]
	return p, ok
}

func (c *fakeCache) Entries() []domain.VideoCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.VideoCacheEntry, 0, len(c.files))
	for id, p := range c.files {
		out = append(out, domain.VideoCacheEntry{VideoID: id, Path: p, SizeBytes: 10})
	}
	return out
}

func (c *fakeCache) PurgeOlderThan(days int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged = append(c.purged, days)
	return c.purgeN
}

func (c *fakeCache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clearErr != nil {
		return c.clearErr
	}
	c.cleared = true
	c.files = make(map[int64]string)
	return nil
}

func (c *fakeCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(10 * len(c.files))
}

func (c *fakeCache) MaxBytes() int64 { return 1000 }

// ---- fake settings controller ----

type fakeSettingsCtrl struct {
	settings  app.QueueSettings
	updateErr error
	updates   int
}

func (f *fakeSettingsCtrl) Get() app.QueueSettings { return f.settings }
func (f *fakeSettingsCtrl) Update(s app.QueueSettings) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if err := s.Validate(); err != nil {
		return err
	}
	f.updates++
	f.settings = s
	return nil
}
