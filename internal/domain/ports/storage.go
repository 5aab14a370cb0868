package ports

import (
	"context"
	"time"

	"dogetionary/internal/domain"
)

type VideoStore interface {
	Get(videoID int64) (string, bool)
	Put(videoID int64, tempPath, ext string) (domain.VideoCacheEntry, error)
	EnforceMaxSize() int
	PurgeOlderThan(days int) int
	ClearAll() error
	TotalSize() int64
}

// QuestionCache persists fetched questions for offline reuse. It is
// best-effort: nothing in the fetch path depends on reads from it.
type QuestionCache interface {
	Put(ctx context.Context, key domain.QuestionCacheKey, q domain.ReviewQuestion) error
	Get(ctx context.Context, key domain.QuestionCacheKey) (domain.ReviewQuestion, bool, error)
	Delete(ctx context.Context, key domain.QuestionCacheKey) error
}

// QuestionCacheTTL is used by backends that support expiry.
const QuestionCacheTTL = 30 * 24 * time.Hour
