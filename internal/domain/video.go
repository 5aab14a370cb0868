package domain

import "time"

type DownloadStatus string

const (
	DownloadNotStarted  DownloadStatus = "not_started"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCached      DownloadStatus = "cached"
	DownloadFailed      DownloadStatus = "failed"
)

// DownloadState is the transient per-video download status. Fields beyond
// Status are meaningful only for the status that sets them.
type DownloadState struct {
	VideoID         int64          `json:"videoId"`
	Status          DownloadStatus `json:"status"`
	Progress        float64        `json:"progress,omitempty"`
	StartTime       time.Time      `json:"startTime,omitzero"`
	BytesDownloaded int64          `json:"bytesDownloaded,omitempty"`
	TotalBytes      *int64         `json:"totalBytes,omitempty"`
	Path            string         `json:"path,omitempty"`
	DurationSeconds float64        `json:"durationSeconds,omitempty"`
	FileSizeBytes   int64          `json:"fileSizeBytes,omitempty"`
	Error           string         `json:"error,omitempty"`
	RetryCount      int            `json:"retryCount,omitempty"`
}

func NotStarted(videoID int64) DownloadState {
	return DownloadState{VideoID: videoID, Status: DownloadNotStarted}
}

// VideoCacheEntry describes one file in the on-disk video cache.
type VideoCacheEntry struct {
	VideoID   int64     `json:"videoId"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	ModTime   time.Time `json:"modTime"`
}
