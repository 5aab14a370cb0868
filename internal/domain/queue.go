package domain

import (
	"time"

	"github.com/google/uuid"
)

type QueueKind string

const (
	QueuePriority   QueueKind = "priority"
	QueueBackground QueueKind = "background"
)

// QueueState is a point-in-time copy of the review queue.
type QueueState struct {
	Priority         []ReviewQuestion `json:"priority"`
	Background       []ReviewQuestion `json:"background"`
	ActiveFetchCount int              `json:"activeFetchCount"`
	HasMore          bool             `json:"hasMore"`
	TotalAvailable   int              `json:"totalAvailable"`
	LastError        string           `json:"lastError,omitempty"`
	Generation       uint64           `json:"generation"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Len returns the number of questions across both queues.
func (s QueueState) Len() int {
	return len(s.Priority) + len(s.Background)
}

// SearchGroup tracks one streaming priority insert until its last item resolves.
type SearchGroup struct {
	ID               uuid.UUID `json:"id"`
	TriggeringWord   string    `json:"triggeringWord"`
	InsertedVideoIDs []int64   `json:"insertedVideoIds,omitempty"`
	TotalExpected    int       `json:"totalExpected"`
	Ready            int       `json:"ready"`
	Failed           int       `json:"failed"`
	Skipped          int       `json:"skipped"`
	StartedAt        time.Time `json:"startedAt"`
}

// Resolved counts items that reached a terminal outcome.
func (g SearchGroup) Resolved() int {
	return g.Ready + g.Failed
}

func (g SearchGroup) Done() bool {
	return g.Resolved() >= g.TotalExpected
}
