package ports

import (
	"context"
	"io"

	"dogetionary/internal/domain"
)

// QuestionSource is the remote review scheduler. Successive count=1 calls
// are ordered; excludeWords keeps already-buffered words from being redelivered.
type QuestionSource interface {
	NextReviewBatch(ctx context.Context, userID string, count int, excludeWords []string) (domain.QuestionBatch, error)
}

// VideoSource streams the bytes of one video. size is -1 when unknown.
type VideoSource interface {
	OpenVideo(ctx context.Context, videoID int64) (body io.ReadCloser, size int64, ext string, err error)
}
