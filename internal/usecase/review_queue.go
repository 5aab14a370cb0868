package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"dogetionary/internal/domain"
	"dogetionary/internal/domain/ports"
	"dogetionary/internal/metrics"
)

const (
	DefaultTargetQueueSize      = 20
	DefaultMaxConcurrentFetches = 5
	defaultRefillRetryDelay     = 2 * time.Second
)

type ReviewQueueConfig struct {
	TargetQueueSize      int
	MaxConcurrentFetches int
	// DiscardStale drops fetch results that complete after a Clear.
	DiscardStale     bool
	RefillRetryDelay time.Duration
}

// ReviewQueue holds the ready-to-serve questions: a priority FIFO fed by user
// searches and a background FIFO kept topped up from the server. All state is
// guarded by mu; network and disk work runs on goroutines and re-enters
// through it. Player handles are prepared and released under mu so a handle
// exists exactly while its question is queued.
type ReviewQueue struct {
	fetcher QuestionFetcher
	players ports.PlayerPool
	events  ports.EventSink
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	priority       []domain.ReviewQuestion
	background     []domain.ReviewQuestion
	activeFetches  int
	hasMore        bool
	totalAvailable int
	lastError      string
	generation     uint64
	target         int
	maxConcurrent  int
	discardStale   bool
	retryDelay     time.Duration
	retryTimer     *time.Timer
	groups         map[uuid.UUID]*searchGroup
	closed         bool
}

func NewReviewQueue(fetcher QuestionFetcher, players ports.PlayerPool, events ports.EventSink, logger *slog.Logger, cfg ReviewQueueConfig) *ReviewQueue {
	if events == nil {
		events = ports.NopEvents{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TargetQueueSize <= 0 {
		cfg.TargetQueueSize = DefaultTargetQueueSize
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if cfg.RefillRetryDelay <= 0 {
		cfg.RefillRetryDelay = defaultRefillRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReviewQueue{
		fetcher:       fetcher,
		players:       players,
		events:        events,
		logger:        logger,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		hasMore:       true,
		target:        cfg.TargetQueueSize,
		maxConcurrent: cfg.MaxConcurrentFetches,
		discardStale:  cfg.DiscardStale,
		retryDelay:    cfg.RefillRetryDelay,
		groups:        make(map[uuid.UUID]*searchGroup),
	}
}

// Close stops refilling and waits for in-flight fetches to return.
func (q *ReviewQueue) Close() {
	q.mu.Lock()
	q.closed = true
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

// Pop removes the head of the priority queue, or of the background queue when
// the priority queue is empty. A refill check always follows.
func (q *ReviewQueue) Pop() (domain.ReviewQuestion, bool) {
	q.mu.Lock()
	var out domain.ReviewQuestion
	ok := true
	switch {
	case len(q.priority) > 0:
		out = q.priority[0]
		q.priority = slices.Delete(q.priority, 0, 1)
	case len(q.background) > 0:
		out = q.background[0]
		q.background = slices.Delete(q.background, 0, 1)
	default:
		ok = false
	}
	if ok {
		if out.IsVideo() && q.players != nil {
			q.players.Release(out.VideoIDValue())
		}
		q.publishLocked()
	}
	q.mu.Unlock()

	q.RefillIfNeeded()
	return out, ok
}

func (q *ReviewQueue) Peek() (domain.ReviewQuestion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.headLocked()
}

func (q *ReviewQueue) headLocked() (domain.ReviewQuestion, bool) {
	if len(q.priority) > 0 {
		return q.priority[0], true
	}
	if len(q.background) > 0 {
		return q.background[0], true
	}
	return domain.ReviewQuestion{}, false
}

// Clear empties both queues. With preserveFirst the current head survives in
// the queue it came from and only its player is kept. Fetches started before
// the call are stale from here on.
func (q *ReviewQueue) Clear(preserveFirst bool) {
	q.mu.Lock()
	var keep *int64
	head, hasHead := q.headLocked()
	fromPriority := len(q.priority) > 0
	q.priority = nil
	q.background = nil
	if preserveFirst && hasHead {
		if fromPriority {
			q.priority = []domain.ReviewQuestion{head}
		} else {
			q.background = []domain.ReviewQuestion{head}
		}
		if head.IsVideo() {
			id := head.VideoIDValue()
			keep = &id
		}
	}
	q.generation++
	q.hasMore = true
	q.lastError = ""
	gen := q.generation
	if q.players != nil {
		q.players.ReleaseAllExcept(keep)
	}
	q.publishLocked()
	q.mu.Unlock()

	q.logger.Debug("review queue cleared",
		slog.Bool("preserveFirst", preserveFirst),
		slog.Uint64("generation", gen),
	)
}

// ForceRefresh keeps the visible question and restarts the background stream.
func (q *ReviewQueue) ForceRefresh() {
	q.Clear(true)
	q.RefillIfNeeded()
}

// RefillIfNeeded starts as many background fetches as both the target size and
// the concurrency limit allow. In-flight fetches count toward the target. It
// returns the number of fetches started.
func (q *ReviewQueue) RefillIfNeeded() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	if !q.hasMore {
		q.mu.Unlock()
		q.logger.Debug("refill skipped: server has no more questions")
		return 0
	}
	needed := q.target - len(q.background) - q.activeFetches
	if needed <= 0 {
		q.mu.Unlock()
		q.logger.Debug("refill skipped: queue at target")
		return 0
	}
	slots := q.maxConcurrent - q.activeFetches
	if slots <= 0 {
		q.mu.Unlock()
		q.logger.Debug("refill skipped: no fetch slots")
		return 0
	}
	n := min(needed, slots)
	gen := q.generation
	exclude := q.excludeLocked()
	q.activeFetches += n
	q.wg.Add(n)
	q.publishLocked()
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		go q.runFetch(gen, exclude)
	}
	return n
}

// excludeLocked lists the background words. Priority words are deliberately
// left out so the background stream may redeliver them.
func (q *ReviewQueue) excludeLocked() []string {
	out := make([]string, 0, len(q.background))
	for _, item := range q.background {
		out = append(out, item.Word)
	}
	return out
}

func (q *ReviewQueue) runFetch(gen uint64, exclude []string) {
	defer q.wg.Done()
	res, err := q.fetcher.FetchOne(q.ctx, exclude)

	q.mu.Lock()
	q.activeFetches--
	var (
		result string
		retry  bool
	)
	switch {
	case q.discardStale && gen != q.generation:
		// Counters are left as Clear set them.
		result = "stale"
	case err != nil:
		result = "error"
		q.lastError = err.Error()
		retry = true
	default:
		q.hasMore = res.HasMore
		q.totalAvailable = res.TotalAvailable
		switch {
		case res.Empty:
			result = "empty"
			retry = res.HasMore
		case containsWord(q.background, res.Question.Word):
			result = "duplicate"
		default:
			result = "ok"
			q.background = append(q.background, res.Question)
			if res.Question.IsVideo() && res.VideoErr == nil && q.players != nil {
				q.players.Prepare(res.Question.VideoIDValue(), res.VideoPath)
			}
			if res.VideoErr != nil {
				q.lastError = fmt.Sprintf("video %d: %v", res.Question.VideoIDValue(), res.VideoErr)
			} else {
				q.lastError = ""
			}
		}
	}
	closed := q.closed
	q.publishLocked()
	q.mu.Unlock()

	metrics.QuestionFetchesTotal.WithLabelValues(result).Inc()
	switch result {
	case "error":
		if !closed {
			q.logger.Warn("question fetch failed", slog.String("error", err.Error()))
		}
	case "ok":
	default:
		q.logger.Debug("question fetch dropped",
			slog.String("result", result),
			slog.String("word", res.Question.Word),
		)
	}

	if closed {
		return
	}
	if retry {
		q.scheduleRetry()
		return
	}
	q.RefillIfNeeded()
}

func (q *ReviewQueue) scheduleRetry() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.retryTimer != nil {
		return
	}
	q.retryTimer = time.AfterFunc(q.retryDelay, func() {
		q.mu.Lock()
		q.retryTimer = nil
		q.mu.Unlock()
		q.RefillIfNeeded()
	})
}

// ApplyLimits changes the target size and concurrency limit. Lowering the limit
// below the current in-flight count only stops new fetches.
func (q *ReviewQueue) ApplyLimits(targetQueueSize, maxConcurrentFetches int) {
	q.mu.Lock()
	if targetQueueSize > 0 {
		q.target = targetQueueSize
	}
	if maxConcurrentFetches > 0 {
		q.maxConcurrent = maxConcurrentFetches
	}
	q.mu.Unlock()
	q.RefillIfNeeded()
}

func (q *ReviewQueue) Limits() (targetQueueSize, maxConcurrentFetches int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.target, q.maxConcurrent
}

// State returns a copy of the queue state.
func (q *ReviewQueue) State() domain.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *ReviewQueue) snapshotLocked() domain.QueueState {
	return domain.QueueState{
		Priority:         slices.Clone(q.priority),
		Background:       slices.Clone(q.background),
		ActiveFetchCount: q.activeFetches,
		HasMore:          q.hasMore,
		TotalAvailable:   q.totalAvailable,
		LastError:        q.lastError,
		Generation:       q.generation,
		UpdatedAt:        q.now().UTC(),
	}
}

// publishLocked notifies the event sink while mu is held so observers see
// states in mutation order. Sinks must not block or call back into the queue.
func (q *ReviewQueue) publishLocked() {
	state := q.snapshotLocked()
	metrics.QueueDepth.WithLabelValues(string(domain.QueuePriority)).Set(float64(len(state.Priority)))
	metrics.QueueDepth.WithLabelValues(string(domain.QueueBackground)).Set(float64(len(state.Background)))
	metrics.ActiveFetches.Set(float64(state.ActiveFetchCount))
	q.events.QueueChanged(state)
}

func containsWord(items []domain.ReviewQuestion, word string) bool {
	for _, item := range items {
		if item.Word == word {
			return true
		}
	}
	return false
}
