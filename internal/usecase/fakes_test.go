package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dogetionary/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func word(w string) domain.ReviewQuestion {
	return domain.ReviewQuestion{Word: w, QuestionType: domain.QuestionRecognition, Source: domain.SourceNew}
}

func videoQuestion(w string, id int64) domain.ReviewQuestion {
	return domain.ReviewQuestion{Word: w, QuestionType: domain.QuestionVideoMC, VideoID: &id}
}

// --- fake fetcher ---

type fakeFetcher struct {
	mu        sync.Mutex
	fetch     func(exclude []string) (FetchResult, error)
	ready     func(q domain.ReviewQuestion) (string, error)
	calls     int
	excludes  [][]string
	active    int
	maxActive int
}

func (f *fakeFetcher) FetchOne(ctx context.Context, exclude []string) (FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.excludes = append(f.excludes, exclude)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	fn := f.fetch
	f.mu.Unlock()

	res, err := fn(exclude)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return res, err
}

func (f *fakeFetcher) MakeReady(ctx context.Context, q domain.ReviewQuestion) (string, error) {
	f.mu.Lock()
	fn := f.ready
	f.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(q)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// sequence serves the given words in order, then reports the stream exhausted.
func sequence(words ...string) func([]string) (FetchResult, error) {
	var mu sync.Mutex
	i := 0
	return func([]string) (FetchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(words) {
			return FetchResult{Empty: true, HasMore: false}, nil
		}
		w := words[i]
		i++
		return FetchResult{Question: word(w), HasMore: true, TotalAvailable: len(words) - i}, nil
	}
}

// endless serves w1, w2, ... after an optional delay.
func endless(delay time.Duration) func([]string) (FetchResult, error) {
	var mu sync.Mutex
	n := 0
	return func([]string) (FetchResult, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		mu.Lock()
		n++
		w := fmt.Sprintf("w%d", n)
		mu.Unlock()
		return FetchResult{Question: word(w), HasMore: true, TotalAvailable: 1000}, nil
	}
}

// --- fake players ---

type fakePlayers struct {
	mu           sync.Mutex
	prepared     map[int64]string
	released     []int64
	keepArgs     []*int64
	prepareDelay time.Duration
}

func newFakePlayers() *fakePlayers {
	return &fakePlayers{prepared: make(map[int64]string)}
}

func (p *fakePlayers) Prepare(id int64, path string) {
	if p.prepareDelay > 0 {
		time.Sleep(p.prepareDelay)
	}
	p.mu.Lock()
	p.prepared[id] = path
	p.mu.Unlock()
}

func (p *fakePlayers) Release(id int64) {
	p.mu.Lock()
	delete(p.prepared, id)
	p.released = append(p.released, id)
	p.mu.Unlock()
}

func (p *fakePlayers) ReleaseAllExcept(keep *int64) {
	p.mu.Lock()
	for id := range p.prepared {
		if keep != nil && id == *keep {
			continue
		}
		delete(p.prepared, id)
	}
	p.keepArgs = append(p.keepArgs, keep)
	p.mu.Unlock()
}

func (p *fakePlayers) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prepared)
}

func (p *fakePlayers) has(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.prepared[id]
	return ok
}

// --- fake events ---

type recordingEvents struct {
	mu        sync.Mutex
	states    []domain.QueueState
	maxActive int
	onQueue   func(domain.QueueState)
}

func (r *recordingEvents) QueueChanged(s domain.QueueState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	if s.ActiveFetchCount > r.maxActive {
		r.maxActive = s.ActiveFetchCount
	}
	hook := r.onQueue
	r.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

func (r *recordingEvents) DownloadChanged(domain.DownloadState) {}
func (r *recordingEvents) Publish(string, any)                  {}

func (r *recordingEvents) MaxActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

// --- fake remote source, video coordinator and question cache ---

type fakeSource struct {
	mu      sync.Mutex
	batches []domain.QuestionBatch
	err     error
	errN    int
	calls   []sourceCall
}

type sourceCall struct {
	userID  string
	count   int
	exclude []string
}

func (s *fakeSource) NextReviewBatch(ctx context.Context, userID string, count int, exclude []string) (domain.QuestionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceCall{userID: userID, count: count, exclude: exclude})
	if s.err != nil && (s.errN == 0 || len(s.calls) <= s.errN) {
		return domain.QuestionBatch{}, s.err
	}
	if len(s.batches) == 0 {
		return domain.QuestionBatch{HasMore: false}, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

type fakeVideos struct {
	mu     sync.Mutex
	states map[int64]domain.DownloadStatus
	gates  map[int64]chan error
}

func newFakeVideos() *fakeVideos {
	return &fakeVideos{states: make(map[int64]domain.DownloadStatus), gates: make(map[int64]chan error)}
}

func (v *fakeVideos) gate(id int64) chan error {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch, ok := v.gates[id]
	if !ok {
		ch = make(chan error, 1)
		v.gates[id] = ch
	}
	return ch
}

func (v *fakeVideos) State(id int64) domain.DownloadState {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.states[id]
	if !ok {
		st = domain.DownloadNotStarted
	}
	return domain.DownloadState{VideoID: id, Status: st}
}

func (v *fakeVideos) FetchVideo(ctx context.Context, id int64) (string, error) {
	gate := v.gate(id)
	v.mu.Lock()
	v.states[id] = domain.DownloadDownloading
	v.mu.Unlock()

	var err error
	select {
	case err = <-gate:
	case <-ctx.Done():
		err = ctx.Err()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.states[id] = domain.DownloadFailed
		return "", err
	}
	v.states[id] = domain.DownloadCached
	return fmt.Sprintf("/cache/video_%d.mp4", id), nil
}

func (v *fakeVideos) PreloadVideos([]int64) {}

type fakeQuestionCache struct {
	mu     sync.Mutex
	puts   map[string]domain.ReviewQuestion
	gets   int
	putErr error
}

func newFakeQuestionCache() *fakeQuestionCache {
	return &fakeQuestionCache{puts: make(map[string]domain.ReviewQuestion)}
}

func (c *fakeQuestionCache) Put(ctx context.Context, key domain.QuestionCacheKey, q domain.ReviewQuestion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.puts[key.String()] = q
	return nil
}

func (c *fakeQuestionCache) Get(ctx context.Context, key domain.QuestionCacheKey) (domain.ReviewQuestion, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	q, ok := c.puts[key.String()]
	return q, ok, nil
}

func (c *fakeQuestionCache) Delete(ctx context.Context, key domain.QuestionCacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.puts, key.String())
	return nil
}
