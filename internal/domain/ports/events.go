package ports

import "dogetionary/internal/domain"

// EventSink receives state changes published by the queue and the download
// coordinator. Implementations must not block.
type EventSink interface {
	QueueChanged(state domain.QueueState)
	DownloadChanged(state domain.DownloadState)
	Publish(eventType string, data any)
}

// NopEvents discards everything.
type NopEvents struct{}

func (NopEvents) QueueChanged(domain.QueueState)       {}
func (NopEvents) DownloadChanged(domain.DownloadState) {}
func (NopEvents) Publish(string, any)                  {}
