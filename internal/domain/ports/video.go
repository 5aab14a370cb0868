package ports

import (
	"context"

	"dogetionary/internal/domain"
)

// VideoCoordinator makes a video locally available, deduplicating concurrent
// requests for the same id.
type VideoCoordinator interface {
	State(videoID int64) domain.DownloadState
	FetchVideo(ctx context.Context, videoID int64) (string, error)
	PreloadVideos(videoIDs []int64)
}

// PlayerPool holds ready-to-play handles keyed by video id. The review queue
// calls it while holding its lock, so implementations must not call back.
type PlayerPool interface {
	Prepare(videoID int64, path string)
	Release(videoID int64)
	ReleaseAllExcept(keep *int64)
	Len() int
}
