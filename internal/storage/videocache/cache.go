package videocache

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dogetionary/internal/domain"
	"dogetionary/internal/metrics"
)

const (
	DefaultMaxBytes int64 = 500 * 1024 * 1024
	defaultExt            = "mp4"
	filePrefix            = "video_"
	tempPrefix            = ".download-"
)

// ---- eviction min-heap (ordered by mtime, oldest first) --------------------

type evictionEntry struct {
	videoID int64
	path    string
	mtime   time.Time
	size    int64
	seq     int // directory enumeration / insertion order, breaks mtime ties
	heapIdx int
}

type evictionMinHeap []*evictionEntry

func (h evictionMinHeap) Len() int { return len(h) }
func (h evictionMinHeap) Less(i, j int) bool {
	if h[i].mtime.Equal(h[j].mtime) {
		return h[i].seq < h[j].seq
	}
	return h[i].mtime.Before(h[j].mtime)
}
func (h evictionMinHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *evictionMinHeap) Push(x any) {
	e := x.(*evictionEntry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *evictionMinHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// Store is the on-disk video cache. Files are named video_<id>.<ext> in a
// single directory and the file modification time doubles as the recency key.
type Store struct {
	dir       string
	maxBytes  int64
	mu        sync.Mutex
	byID      map[int64]*evictionEntry
	evictHeap evictionMinHeap
	totalSize int64
	seq       int
	now       func() time.Time
	logger    *slog.Logger
}

func New(dir string, maxBytes int64, logger *slog.Logger) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create video cache dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		maxBytes: maxBytes,
		byID:     make(map[int64]*evictionEntry),
		now:      time.Now,
		logger:   logger,
	}
	s.rebuild()
	return s, nil
}

// Filename returns the cache filename for a video id.
func Filename(videoID int64, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = defaultExt
	}
	return filePrefix + strconv.FormatInt(videoID, 10) + "." + ext
}

// parseFilename extracts the video id from video_<id>.<ext>.
func parseFilename(name string) (int64, bool) {
	if !strings.HasPrefix(name, filePrefix) {
		return 0, false
	}
	body := strings.TrimPrefix(name, filePrefix)
	dot := strings.IndexByte(body, '.')
	if dot <= 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(body[:dot], 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// rebuild scans the cache directory and repopulates the index.
func (s *Store) rebuild() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			// Left over from a download interrupted by a restart.
			s.removeFile(filepath.Join(s.dir, entry.Name()))
			continue
		}
		id, ok := parseFilename(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if prev, dup := s.byID[id]; dup {
			// Two extensions for one id: keep the newer file.
			if !info.ModTime().After(prev.mtime) {
				continue
			}
			s.totalSize -= prev.size
			s.evictHeap = removeFromSlice(s.evictHeap, prev)
		}
		e := &evictionEntry{
			videoID: id,
			path:    filepath.Join(s.dir, entry.Name()),
			mtime:   info.ModTime(),
			size:    info.Size(),
			seq:     s.nextSeq(),
		}
		s.byID[id] = e
		s.evictHeap = append(s.evictHeap, e)
		s.totalSize += e.size
	}
	for i, e := range s.evictHeap {
		e.heapIdx = i
	}
	heap.Init(&s.evictHeap)
}

func removeFromSlice(h evictionMinHeap, target *evictionEntry) evictionMinHeap {
	for i, e := range h {
		if e == target {
			return append(h[:i], h[i+1:]...)
		}
	}
	return h
}

func (s *Store) nextSeq() int {
	s.seq++
	return s.seq
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Get reports whether a cached file exists for the id.
func (s *Store) Get(videoID int64) (string, bool) {
	s.mu.Lock()
	e, ok := s.byID[videoID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	if _, err := os.Stat(e.path); err != nil {
		// Removed behind our back: forget it.
		s.mu.Lock()
		if cur, ok := s.byID[videoID]; ok && cur == e {
			s.dropLocked(e)
		}
		s.mu.Unlock()
		return "", false
	}
	return e.path, true
}

// Entry returns the index entry for a cached video.
func (s *Store) Entry(videoID int64) (domain.VideoCacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[videoID]
	if !ok {
		return domain.VideoCacheEntry{}, false
	}
	return toEntry(e), true
}

// Entries lists cached videos, oldest first.
func (s *Store) Entries() []domain.VideoCacheEntry {
	s.mu.Lock()
	snapshot := make(evictionMinHeap, len(s.evictHeap))
	copy(snapshot, s.evictHeap)
	s.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot.Less(i, j) })
	out := make([]domain.VideoCacheEntry, 0, len(snapshot))
	for _, e := range snapshot {
		out = append(out, toEntry(e))
	}
	return out
}

func toEntry(e *evictionEntry) domain.VideoCacheEntry {
	return domain.VideoCacheEntry{VideoID: e.videoID, Path: e.path, SizeBytes: e.size, ModTime: e.mtime}
}

// Put moves a downloaded temp file into the cache, replacing any stale entry
// for the same id, then enforces the size limit.
func (s *Store) Put(videoID int64, tempPath, ext string) (domain.VideoCacheEntry, error) {
	dstPath := filepath.Join(s.dir, Filename(videoID, ext))

	if err := os.Rename(tempPath, dstPath); err != nil {
		return domain.VideoCacheEntry{}, fmt.Errorf("move video %d into cache: %w", videoID, err)
	}
	now := s.now()
	_ = os.Chtimes(dstPath, now, now)
	info, err := os.Stat(dstPath)
	if err != nil {
		return domain.VideoCacheEntry{}, fmt.Errorf("stat cached video %d: %w", videoID, err)
	}

	s.mu.Lock()
	var stalePath string
	if prev, ok := s.byID[videoID]; ok {
		if prev.path != dstPath {
			stalePath = prev.path
		}
		s.dropLocked(prev)
	}
	e := &evictionEntry{
		videoID: videoID,
		path:    dstPath,
		mtime:   info.ModTime(),
		size:    info.Size(),
		seq:     s.nextSeq(),
	}
	heap.Push(&s.evictHeap, e)
	s.byID[videoID] = e
	s.totalSize += e.size
	s.mu.Unlock()

	if stalePath != "" {
		s.removeFile(stalePath)
	}

	s.EnforceMaxSize()
	return toEntry(e), nil
}

// EnforceMaxSize deletes the oldest entries until the total size is within
// the limit. It returns the number of evicted files.
func (s *Store) EnforceMaxSize() int {
	// Index bookkeeping happens under the lock; file removal does not.
	s.mu.Lock()
	var toEvict []*evictionEntry
	for s.totalSize > s.maxBytes && s.evictHeap.Len() > 0 {
		oldest := heap.Pop(&s.evictHeap).(*evictionEntry)
		delete(s.byID, oldest.videoID)
		s.totalSize -= oldest.size
		toEvict = append(toEvict, oldest)
	}
	if s.totalSize < 0 {
		s.totalSize = 0
	}
	total := s.totalSize
	s.mu.Unlock()

	for _, e := range toEvict {
		s.removeFile(e.path)
		metrics.VideoCacheEvictionsTotal.WithLabelValues("size").Inc()
		s.logger.Debug("video cache evicted",
			slog.Int64("videoId", e.videoID),
			slog.Int64("sizeBytes", e.size),
		)
	}
	metrics.VideoCacheSizeBytes.Set(float64(total))
	return len(toEvict)
}

// PurgeOlderThan deletes entries last modified more than days ago,
// regardless of size pressure.
func (s *Store) PurgeOlderThan(days int) int {
	if days < 0 {
		return 0
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	s.mu.Lock()
	var toPurge []*evictionEntry
	for s.evictHeap.Len() > 0 && s.evictHeap[0].mtime.Before(cutoff) {
		oldest := heap.Pop(&s.evictHeap).(*evictionEntry)
		delete(s.byID, oldest.videoID)
		s.totalSize -= oldest.size
		toPurge = append(toPurge, oldest)
	}
	if s.totalSize < 0 {
		s.totalSize = 0
	}
	total := s.totalSize
	s.mu.Unlock()

	for _, e := range toPurge {
		s.removeFile(e.path)
		metrics.VideoCacheEvictionsTotal.WithLabelValues("age").Inc()
	}
	metrics.VideoCacheSizeBytes.Set(float64(total))
	if len(toPurge) > 0 {
		s.logger.Info("video cache purged old entries",
			slog.Int("count", len(toPurge)),
			slog.Int("olderThanDays", days),
		)
	}
	return len(toPurge)
}

// ClearAll removes every cached video.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	entries := s.evictHeap
	s.evictHeap = nil
	s.byID = make(map[int64]*evictionEntry)
	s.totalSize = 0
	s.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			metrics.VideoCacheCleanupErrors.Inc()
			continue
		}
		metrics.VideoCacheEvictionsTotal.WithLabelValues("clear").Inc()
	}
	metrics.VideoCacheSizeBytes.Set(0)
	return errors.Join(errs...)
}

// TotalSize returns the current total cache size in bytes.
func (s *Store) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

func (s *Store) MaxBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBytes
}

// SetMaxBytes updates the limit and evicts if the cache is now over it.
func (s *Store) SetMaxBytes(v int64) {
	if v <= 0 {
		return
	}
	s.mu.Lock()
	s.maxBytes = v
	needEvict := s.totalSize > s.maxBytes
	s.mu.Unlock()
	if needEvict {
		s.EnforceMaxSize()
	}
}

// TempFile creates a download target inside the cache directory so the final
// rename stays on one filesystem.
func (s *Store) TempFile(videoID int64) (*os.File, error) {
	return os.CreateTemp(s.dir, fmt.Sprintf("%s%d-*", tempPrefix, videoID))
}

func (s *Store) dropLocked(e *evictionEntry) {
	if e.heapIdx >= 0 && e.heapIdx < len(s.evictHeap) && s.evictHeap[e.heapIdx] == e {
		heap.Remove(&s.evictHeap, e.heapIdx)
	}
	delete(s.byID, e.videoID)
	s.totalSize -= e.size
	if s.totalSize < 0 {
		s.totalSize = 0
	}
}

func (s *Store) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("video cache remove failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		metrics.VideoCacheCleanupErrors.Inc()
	}
}
