package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"dogetionary/internal/domain"
	"dogetionary/internal/domain/ports"
	"dogetionary/internal/metrics"
	"dogetionary/internal/telemetry"
)

var (
	ErrEvictedOnWrite = errors.New("video larger than cache limit")
	ErrClosed         = errors.New("video coordinator closed")
)

const progressStep = 0.05

// Store is the part of the video cache the coordinator needs.
type Store interface {
	ports.VideoStore
	TempFile(videoID int64) (*os.File, error)
}

type Config struct {
	PreloadConcurrency int
}

// Coordinator downloads videos into the cache. At most one download per id is
// in flight; concurrent callers share its outcome.
type Coordinator struct {
	source  ports.VideoSource
	store   Store
	events  ports.EventSink
	logger  *slog.Logger
	group   singleflight.Group
	preload *semaphore.Weighted
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	states map[int64]domain.DownloadState
	closed bool
}

func NewCoordinator(source ports.VideoSource, store Store, events ports.EventSink, logger *slog.Logger, cfg Config) *Coordinator {
	if events == nil {
		events = ports.NopEvents{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PreloadConcurrency <= 0 {
		cfg.PreloadConcurrency = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:     ctx,
		cancel:  cancel,
		source:  source,
		store:   store,
		events:  events,
		logger:  logger,
		preload: semaphore.NewWeighted(int64(cfg.PreloadConcurrency)),
		now:     time.Now,
		states:  make(map[int64]domain.DownloadState),
	}
}

// State returns the current download state; not_started if never requested
// or if the cached file has since been evicted.
func (c *Coordinator) State(videoID int64) domain.DownloadState {
	c.mu.RLock()
	st, ok := c.states[videoID]
	c.mu.RUnlock()
	if ok && st.Status != domain.DownloadCached {
		return st
	}
	if path, cached := c.store.Get(videoID); cached {
		if ok {
			return st
		}
		return domain.DownloadState{VideoID: videoID, Status: domain.DownloadCached, Path: path}
	}
	return domain.NotStarted(videoID)
}

// Close cancels running downloads and preloads and waits for them to return.
// Later calls fail with ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// track registers a background task unless the coordinator is closed.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

// FetchVideo returns the local path of the video, downloading it first if
// needed. The shared download is not cancelled when ctx is; ctx only bounds
// how long this caller waits. Close cancels it.
func (c *Coordinator) FetchVideo(ctx context.Context, videoID int64) (string, error) {
	if path, ok := c.store.Get(videoID); ok {
		c.markCachedIfUnknown(videoID, path)
		return path, nil
	}

	ch := c.group.DoChan(strconv.FormatInt(videoID, 10), func() (any, error) {
		if !c.track() {
			return "", ErrClosed
		}
		defer c.wg.Done()
		dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()
		return c.download(dctx, videoID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// PreloadVideos starts downloads for ids that are neither cached nor in
// flight. Starts follow list order; completion order is not guaranteed.
func (c *Coordinator) PreloadVideos(videoIDs []int64) {
	var pending []int64
	seen := make(map[int64]struct{}, len(videoIDs))
	for _, id := range videoIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		st := c.State(id)
		if st.Status == domain.DownloadCached || st.Status == domain.DownloadDownloading {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 || !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		ctx := c.ctx
		for _, id := range pending {
			if err := c.preload.Acquire(ctx, 1); err != nil {
				return
			}
			if !c.track() {
				c.preload.Release(1)
				return
			}
			go func(id int64) {
				defer c.wg.Done()
				defer c.preload.Release(1)
				if _, err := c.FetchVideo(ctx, id); err != nil {
					c.logger.Debug("video preload failed", slog.Int64("videoId", id), slog.String("error", err.Error()))
				}
			}(id)
		}
	}()
}

func (c *Coordinator) download(ctx context.Context, videoID int64) (string, error) {
	// A concurrent download may have finished between the cache check and
	// joining the flight.
	if path, ok := c.store.Get(videoID); ok {
		c.markCachedIfUnknown(videoID, path)
		return path, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "video.download")
	span.SetAttributes(attribute.Int64("video.id", videoID))
	defer span.End()

	start := c.now()
	c.setState(domain.DownloadState{
		VideoID:    videoID,
		Status:     domain.DownloadDownloading,
		StartTime:  start,
		RetryCount: c.State(videoID).RetryCount,
	})

	path, size, err := c.downloadToCache(ctx, videoID, start)
	elapsed := c.now().Sub(start).Seconds()
	metrics.VideoDownloadDuration.Observe(elapsed)

	if err != nil {
		metrics.VideoDownloadsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		prev := c.State(videoID)
		c.setState(domain.DownloadState{
			VideoID:         videoID,
			Status:          domain.DownloadFailed,
			StartTime:       start,
			Error:           err.Error(),
			RetryCount:      prev.RetryCount + 1,
			DurationSeconds: elapsed,
		})
		c.logger.Warn("video download failed",
			slog.Int64("videoId", videoID),
			slog.Int("retryCount", prev.RetryCount+1),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	metrics.VideoDownloadsTotal.WithLabelValues("cached").Inc()
	c.setState(domain.DownloadState{
		VideoID:         videoID,
		Status:          domain.DownloadCached,
		StartTime:       start,
		Path:            path,
		DurationSeconds: elapsed,
		FileSizeBytes:   size,
		RetryCount:      c.State(videoID).RetryCount,
	})
	c.logger.Debug("video cached",
		slog.Int64("videoId", videoID),
		slog.Int64("sizeBytes", size),
		slog.Float64("durationSeconds", elapsed),
	)
	return path, nil
}

func (c *Coordinator) downloadToCache(ctx context.Context, videoID int64, start time.Time) (string, int64, error) {
	body, total, ext, err := c.source.OpenVideo(ctx, videoID)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	tmp, err := c.store.TempFile(videoID)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	pw := &progressWriter{
		onProgress: func(written int64) { c.reportProgress(videoID, start, written, total) },
	}
	n, err := io.Copy(io.MultiWriter(tmp, pw), body)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, fmt.Errorf("download video %d: %w", videoID, err)
	}
	if total > 0 && n != total {
		return "", 0, fmt.Errorf("download video %d: %w", videoID, io.ErrUnexpectedEOF)
	}

	entry, err := c.store.Put(videoID, tmpPath, ext)
	if err != nil {
		return "", 0, err
	}
	committed = true
	// Size enforcement may have evicted the file we just wrote.
	if _, ok := c.store.Get(videoID); !ok {
		return "", 0, ErrEvictedOnWrite
	}
	return entry.Path, entry.SizeBytes, nil
}

func (c *Coordinator) reportProgress(videoID int64, start time.Time, written, total int64) {
	st := domain.DownloadState{
		VideoID:         videoID,
		Status:          domain.DownloadDownloading,
		StartTime:       start,
		BytesDownloaded: written,
	}
	if total > 0 {
		t := total
		st.TotalBytes = &t
		st.Progress = float64(written) / float64(total)
	}

	c.mu.Lock()
	prev := c.states[videoID]
	st.RetryCount = prev.RetryCount
	// Throttle notifications to progressStep increments when the size is known.
	if total > 0 && prev.Status == domain.DownloadDownloading && st.Progress-prev.Progress < progressStep && written < total {
		c.mu.Unlock()
		return
	}
	c.states[videoID] = st
	c.mu.Unlock()
	c.events.DownloadChanged(st)
}

func (c *Coordinator) setState(st domain.DownloadState) {
	c.mu.Lock()
	c.states[st.VideoID] = st
	c.mu.Unlock()
	c.events.DownloadChanged(st)
}

func (c *Coordinator) markCachedIfUnknown(videoID int64, path string) {
	c.mu.Lock()
	st, ok := c.states[videoID]
	if ok && st.Status == domain.DownloadCached && st.Path == path {
		c.mu.Unlock()
		return
	}
	st = domain.DownloadState{
		VideoID:    videoID,
		Status:     domain.DownloadCached,
		Path:       path,
		RetryCount: st.RetryCount,
	}
	if entry, ok := c.entryOf(videoID); ok {
		st.FileSizeBytes = entry.SizeBytes
	}
	c.states[videoID] = st
	c.mu.Unlock()
	c.events.DownloadChanged(st)
}

func (c *Coordinator) entryOf(videoID int64) (domain.VideoCacheEntry, bool) {
	type entryLookup interface {
		Entry(videoID int64) (domain.VideoCacheEntry, bool)
	}
	if s, ok := c.store.(entryLookup); ok {
		return s.Entry(videoID)
	}
	return domain.VideoCacheEntry{}, false
}

// Forget drops state for ids no longer cached, e.g. after a cache clear.
func (c *Coordinator) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.states {
		if st.Status == domain.DownloadDownloading {
			continue
		}
		delete(c.states, id)
	}
}

type progressWriter struct {
	written    int64
	onProgress func(int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	w.onProgress(w.written)
	return len(p), nil
}
