package video

import (
	"log/slog"
	"sync"
	"time"

	"dogetionary/internal/metrics"
)

// Player is a ready-to-play handle for a cached video file.
type Player struct {
	VideoID    int64     `json:"videoId"`
	Path       string    `json:"path"`
	PreparedAt time.Time `json:"preparedAt"`
}

// PlayerPool keeps one prepared player per video id. Handles are released
// explicitly; the pool never evicts on its own.
type PlayerPool struct {
	mu      sync.Mutex
	players map[int64]Player
	logger  *slog.Logger
	now     func() time.Time
}

func NewPlayerPool(logger *slog.Logger) *PlayerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlayerPool{
		players: make(map[int64]Player),
		logger:  logger,
		now:     time.Now,
	}
}

// Prepare registers a handle for videoID. Preparing an id that is already
// held replaces its path.
func (p *PlayerPool) Prepare(videoID int64, path string) {
	p.mu.Lock()
	p.players[videoID] = Player{VideoID: videoID, Path: path, PreparedAt: p.now()}
	n := len(p.players)
	p.mu.Unlock()
	metrics.PlayersActive.Set(float64(n))
}

func (p *PlayerPool) Release(videoID int64) {
	p.mu.Lock()
	delete(p.players, videoID)
	n := len(p.players)
	p.mu.Unlock()
	metrics.PlayersActive.Set(float64(n))
}

// ReleaseAllExcept drops every handle other than keep. A nil keep releases all.
func (p *PlayerPool) ReleaseAllExcept(keep *int64) {
	p.mu.Lock()
	released := 0
	for id := range p.players {
		if keep != nil && id == *keep {
			continue
		}
		delete(p.players, id)
		released++
	}
	n := len(p.players)
	p.mu.Unlock()
	metrics.PlayersActive.Set(float64(n))
	if released > 0 {
		p.logger.Debug("players released", slog.Int("released", released), slog.Int("remaining", n))
	}
}

func (p *PlayerPool) Get(videoID int64) (Player, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.players[videoID]
	return pl, ok
}

func (p *PlayerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.players)
}
