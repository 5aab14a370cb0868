package usecase

import (
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"dogetionary/internal/domain"
	"dogetionary/internal/metrics"
)

// StreamCallbacks observe one streaming priority insert. They run on a
// dedicated goroutine per group, in the order the events happened, and may
// call back into the queue.
type StreamCallbacks struct {
	OnFirstReady func(q domain.ReviewQuestion)
	OnProgress   func(ready, total int)
	OnComplete   func(group domain.SearchGroup)
}

type searchGroup struct {
	domain.SearchGroup
	firstFired bool
	notify     chan func()
}

// StreamAppendToPriorityQueue makes every question ready in parallel and
// appends each to the tail of the priority queue as soon as it is ready, so
// the final order is readiness order. Words already in the priority queue are
// skipped but still count as ready. Items whose video fails, or that finish
// after a Clear when stale results are discarded, count as failed and are
// not inserted. The group is dropped once its last item resolves.
func (q *ReviewQueue) StreamAppendToPriorityQueue(triggeringWord string, questions []domain.ReviewQuestion, cb StreamCallbacks) uuid.UUID {
	g := &searchGroup{
		SearchGroup: domain.SearchGroup{
			ID:             uuid.New(),
			TriggeringWord: triggeringWord,
			TotalExpected:  len(questions),
			StartedAt:      q.now().UTC(),
		},
		notify: make(chan func(), 2*len(questions)+2),
	}
	go dispatch(g.notify)

	q.mu.Lock()
	if len(questions) == 0 || q.closed {
		q.mu.Unlock()
		final := g.SearchGroup
		g.notify <- func() { callComplete(cb, final) }
		close(g.notify)
		return g.ID
	}
	q.groups[g.ID] = g
	gen := q.generation
	q.wg.Add(len(questions))
	active := len(q.groups)
	q.mu.Unlock()

	metrics.SearchGroupsActive.Set(float64(active))
	q.logger.Debug("priority stream started",
		slog.String("groupId", g.ID.String()),
		slog.String("word", triggeringWord),
		slog.Int("items", len(questions)),
	)

	for _, item := range questions {
		go q.streamItem(g, gen, item, cb)
	}
	return g.ID
}

func (q *ReviewQueue) streamItem(g *searchGroup, gen uint64, item domain.ReviewQuestion, cb StreamCallbacks) {
	defer q.wg.Done()
	path, err := q.fetcher.MakeReady(q.ctx, item)

	q.mu.Lock()
	inserted := false
	switch {
	case err != nil:
		g.Failed++
		q.logger.Warn("priority item not ready",
			slog.String("groupId", g.ID.String()),
			slog.String("word", item.Word),
			slog.Int64("videoId", item.VideoIDValue()),
			slog.String("error", err.Error()),
		)
	case q.discardStale && gen != q.generation:
		g.Failed++
	case containsWord(q.priority, item.Word):
		g.Skipped++
		g.Ready++
	default:
		q.priority = append(q.priority, item)
		if item.IsVideo() && q.players != nil {
			q.players.Prepare(item.VideoIDValue(), path)
		}
		g.Ready++
		if item.IsVideo() {
			g.InsertedVideoIDs = append(g.InsertedVideoIDs, item.VideoIDValue())
		}
		inserted = true
	}

	if inserted && !g.firstFired {
		g.firstFired = true
		first := item
		g.notify <- func() {
			if cb.OnFirstReady != nil {
				cb.OnFirstReady(first)
			}
		}
	}
	ready, total := g.Ready, g.TotalExpected
	g.notify <- func() {
		if cb.OnProgress != nil {
			cb.OnProgress(ready, total)
		}
	}
	done := g.Done()
	if done {
		delete(q.groups, g.ID)
		final := g.SearchGroup
		final.InsertedVideoIDs = slices.Clone(g.InsertedVideoIDs)
		g.notify <- func() { callComplete(cb, final) }
		close(g.notify)
	}
	if inserted {
		q.publishLocked()
	}
	active := len(q.groups)
	q.mu.Unlock()

	if done {
		metrics.SearchGroupsActive.Set(float64(active))
	}
}

// ActiveSearchGroups returns the number of streaming inserts still resolving.
func (q *ReviewQueue) ActiveSearchGroups() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.groups)
}

// SearchGroup returns a copy of an active group.
func (q *ReviewQueue) SearchGroup(id uuid.UUID) (domain.SearchGroup, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[id]
	if !ok {
		return domain.SearchGroup{}, false
	}
	out := g.SearchGroup
	out.InsertedVideoIDs = slices.Clone(g.InsertedVideoIDs)
	return out, true
}

func callComplete(cb StreamCallbacks, group domain.SearchGroup) {
	if cb.OnComplete != nil {
		cb.OnComplete(group)
	}
}

func dispatch(notify <-chan func()) {
	for fn := range notify {
		fn()
	}
}
