package usecase

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dogetionary/internal/domain"
)

type streamRecorder struct {
	mu        sync.Mutex
	first     []string
	progress  [][2]int
	completed []domain.SearchGroup
}

func (r *streamRecorder) callbacks() StreamCallbacks {
	return StreamCallbacks{
		OnFirstReady: func(q domain.ReviewQuestion) {
			r.mu.Lock()
			r.first = append(r.first, q.Word)
			r.mu.Unlock()
		},
		OnProgress: func(ready, total int) {
			r.mu.Lock()
			r.progress = append(r.progress, [2]int{ready, total})
			r.mu.Unlock()
		},
		OnComplete: func(g domain.SearchGroup) {
			r.mu.Lock()
			r.completed = append(r.completed, g)
			r.mu.Unlock()
		},
	}
}

func (r *streamRecorder) completeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

func (r *streamRecorder) firstCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.first)
}

// gatedReady blocks MakeReady for each video id until the test releases it.
type gatedReady struct {
	mu    sync.Mutex
	gates map[int64]chan error
}

func newGatedReady(ids ...int64) *gatedReady {
	g := &gatedReady{gates: make(map[int64]chan error)}
	for _, id := range ids {
		g.gates[id] = make(chan error, 1)
	}
	return g
}

func (g *gatedReady) ready(q domain.ReviewQuestion) (string, error) {
	if !q.IsVideo() {
		return "", nil
	}
	g.mu.Lock()
	ch := g.gates[q.VideoIDValue()]
	g.mu.Unlock()
	if err := <-ch; err != nil {
		return "", err
	}
	return "/cache/" + q.Word, nil
}

func (g *gatedReady) release(id int64, err error) {
	g.mu.Lock()
	ch := g.gates[id]
	g.mu.Unlock()
	ch <- err
}

func TestStreamAppendReadinessOrderScenario(t *testing.T) {
	gates := newGatedReady(1, 2, 3)
	f := &fakeFetcher{fetch: sequence(), ready: gates.ready}
	players := newFakePlayers()
	q := newTestQueue(f, players, nil, ReviewQueueConfig{})
	defer q.Close()
	q.hasMore = false

	rec := &streamRecorder{}
	id := q.StreamAppendToPriorityQueue("run", []domain.ReviewQuestion{
		videoQuestion("A", 1), videoQuestion("B", 2), videoQuestion("C", 3),
	}, rec.callbacks())

	if q.ActiveSearchGroups() != 1 {
		t.Fatalf("ActiveSearchGroups = %d", q.ActiveSearchGroups())
	}
	if g, ok := q.SearchGroup(id); !ok || g.TriggeringWord != "run" || g.TotalExpected != 3 {
		t.Fatalf("SearchGroup = %+v, %v", g, ok)
	}

	gates.release(2, nil)
	waitFor(t, "first ready", func() bool { return rec.firstCount() == 1 })
	gates.release(1, nil)
	waitFor(t, "A inserted", func() bool { return len(q.State().Priority) == 2 })
	gates.release(3, nil)
	waitFor(t, "completion", func() bool { return rec.completeCount() == 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.first) != 1 || rec.first[0] != "B" {
		t.Fatalf("first ready = %v", rec.first)
	}
	wantProgress := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if len(rec.progress) != 3 {
		t.Fatalf("progress = %v", rec.progress)
	}
	for i, p := range wantProgress {
		if rec.progress[i] != p {
			t.Fatalf("progress[%d] = %v, want %v", i, rec.progress[i], p)
		}
	}
	done := rec.completed[0]
	if done.ID != id || done.Ready != 3 || done.Failed != 0 {
		t.Fatalf("completed group = %+v", done)
	}
	if ids := done.InsertedVideoIDs; len(ids) != 3 || ids[0] != 2 || ids[1] != 1 || ids[2] != 3 {
		t.Fatalf("inserted video ids = %v", ids)
	}

	if got := words(q.State().Priority); got[0] != "B" || got[1] != "A" || got[2] != "C" {
		t.Fatalf("priority order = %v", got)
	}
	if q.ActiveSearchGroups() != 0 {
		t.Fatal("search group leaked")
	}
	waitFor(t, "players prepared", func() bool {
		return players.has(1) && players.has(2) && players.has(3)
	})
}

func TestStreamAppendSkipsPriorityDuplicates(t *testing.T) {
	f := &fakeFetcher{fetch: sequence()}
	q := newTestQueue(f, nil, nil, ReviewQueueConfig{})
	defer q.Close()
	q.hasMore = false
	q.priority = []domain.ReviewQuestion{word("x")}
	q.background = []domain.ReviewQuestion{word("y")}

	rec := &streamRecorder{}
	q.StreamAppendToPriorityQueue("x", []domain.ReviewQuestion{word("x"), word("y")}, rec.callbacks())
	waitFor(t, "completion", func() bool { return rec.completeCount() == 1 })

	got := words(q.State().Priority)
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("priority = %v", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	g := rec.completed[0]
	if g.Ready != 2 || g.Skipped != 1 || g.Failed != 0 {
		t.Fatalf("group = %+v", g)
	}
	last := rec.progress[len(rec.progress)-1]
	if last != [2]int{2, 2} {
		t.Fatalf("final progress = %v", last)
	}
}

func TestStreamAppendFailuresStillComplete(t *testing.T) {
	gates := newGatedReady(1, 2)
	f := &fakeFetcher{fetch: sequence(), ready: gates.ready}
	q := newTestQueue(f, nil, nil, ReviewQueueConfig{})
	defer q.Close()
	q.hasMore = false

	rec := &streamRecorder{}
	q.StreamAppendToPriorityQueue("swim", []domain.ReviewQuestion{
		videoQuestion("ok", 1), videoQuestion("broken", 2),
	}, rec.callbacks())

	gates.release(2, errors.New("403"))
	gates.release(1, nil)
	waitFor(t, "completion", func() bool { return rec.completeCount() == 1 })

	if got := words(q.State().Priority); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("priority = %v", got)
	}
	rec.mu.Lock()
	g := rec.completed[0]
	progressCalls := len(rec.progress)
	rec.mu.Unlock()
	if g.Ready != 1 || g.Failed != 1 {
		t.Fatalf("group = %+v", g)
	}
	if progressCalls != 2 {
		t.Fatalf("progress calls = %d, want 2", progressCalls)
	}
	if q.ActiveSearchGroups() != 0 {
		t.Fatal("search group leaked after failure")
	}
}

func TestStreamAppendAllFailedNeverFiresFirstReady(t *testing.T) {
	gates := newGatedReady(1)
	f := &fakeFetcher{fetch: sequence(), ready: gates.ready}
	q := newTestQueue(f, nil, nil, ReviewQueueConfig{})
	defer q.Close()
	q.hasMore = false

	rec := &streamRecorder{}
	q.StreamAppendToPriorityQueue("dive", []domain.ReviewQuestion{videoQuestion("d", 1)}, rec.callbacks())
	gates.release(1, errors.New("gone"))
	waitFor(t, "completion", func() bool { return rec.completeCount() == 1 })
	if rec.firstCount() != 0 {
		t.Fatal("OnFirstReady fired without a ready item")
	}
}

func TestStreamAppendEmptyBatchCompletesImmediately(t *testing.T) {
	q := newTestQueue(&fakeFetcher{fetch: sequence()}, nil, nil, ReviewQueueConfig{})
	defer q.Close()

	rec := &streamRecorder{}
	q.StreamAppendToPriorityQueue("none", nil, rec.callbacks())
	waitFor(t, "completion", func() bool { return rec.completeCount() == 1 })
	if q.ActiveSearchGroups() != 0 {
		t.Fatal("empty batch registered a group")
	}
}

func TestStreamAppendDiscardsItemsFinishingAfterClear(t *testing.T) {
	gates := newGatedReady(1)
	f := &fakeFetcher{fetch: sequence(), ready: gates.ready}
	q := newTestQueue(f, nil, nil, ReviewQueueConfig{DiscardStale: true})
	defer q.Close()
	q.hasMore = false

	rec := &streamRecorder{}
	q.StreamAppendToPriorityQueue("late", []domain.ReviewQuestion{videoQuestion("late", 1)}, rec.callbacks())
	q.Clear(false)
	gates.release(1, nil)
	waitFor(t, "completion", func() bool { return rec.completeCount() == 1 })

	if n := len(q.State().Priority); n != 0 {
		t.Fatalf("stale priority item inserted: %d items", n)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.completed[0].Failed != 1 {
		t.Fatalf("group = %+v", rec.completed[0])
	}
}

func TestStreamCallbacksMayCallBackIntoQueue(t *testing.T) {
	q := newTestQueue(&fakeFetcher{fetch: sequence()}, nil, nil, ReviewQueueConfig{})
	defer q.Close()
	q.hasMore = false

	popped := make(chan string, 1)
	q.StreamAppendToPriorityQueue("w", []domain.ReviewQuestion{word("w")}, StreamCallbacks{
		OnFirstReady: func(domain.ReviewQuestion) {
			got, _ := q.Pop()
			popped <- got.Word
		},
	})
	waitFor(t, "pop from callback", func() bool { return len(popped) == 1 })
	if w := <-popped; w != "w" {
		t.Fatalf("popped %q", w)
	}
}

func TestStreamAppendPopFromFirstReadyReleasesPlayer(t *testing.T) {
	players := newFakePlayers()
	players.prepareDelay = 20 * time.Millisecond
	q := newTestQueue(&fakeFetcher{fetch: sequence()}, players, nil, ReviewQueueConfig{})
	defer q.Close()
	q.hasMore = false

	popped := make(chan int64, 1)
	q.StreamAppendToPriorityQueue("run", []domain.ReviewQuestion{videoQuestion("run", 42)}, StreamCallbacks{
		OnFirstReady: func(domain.ReviewQuestion) {
			got, _ := q.Pop()
			popped <- got.VideoIDValue()
		},
	})
	waitFor(t, "pop from callback", func() bool { return len(popped) == 1 })
	if id := <-popped; id != 42 {
		t.Fatalf("popped video %d", id)
	}
	waitFor(t, "group to resolve", func() bool { return q.ActiveSearchGroups() == 0 })
	time.Sleep(2 * players.prepareDelay)
	if players.Len() != 0 {
		t.Fatalf("players.Len = %d after the question was consumed", players.Len())
	}
}
