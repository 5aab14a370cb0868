package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"dogetionary/internal/domain"
)

var ErrInvalidSettings = errors.New("invalid queue settings")

// QueueSettings are the runtime-tunable knobs of the review queue.
type QueueSettings struct {
	TargetQueueSize      int            `json:"targetQueueSize"`
	MaxConcurrentFetches int            `json:"maxConcurrentFetches"`
	MaxCacheSizeMB       int            `json:"maxCacheSizeMB"`
	Profile              domain.Profile `json:"profile"`
}

func (s QueueSettings) Validate() error {
	if s.TargetQueueSize <= 0 || s.TargetQueueSize > 200 {
		return ErrInvalidSettings
	}
	if s.MaxConcurrentFetches <= 0 || s.MaxConcurrentFetches > 32 {
		return ErrInvalidSettings
	}
	if s.MaxCacheSizeMB <= 0 {
		return ErrInvalidSettings
	}
	if strings.TrimSpace(s.Profile.LearningLanguage) == "" || strings.TrimSpace(s.Profile.NativeLanguage) == "" {
		return ErrInvalidSettings
	}
	return nil
}

// QueueSettingsEngine applies settings to the live components.
type QueueSettingsEngine interface {
	ApplyLimits(targetQueueSize, maxConcurrentFetches int)
	SetMaxCacheBytes(v int64)
	SetProfile(p domain.Profile)
	// ForceRefresh is called when the profile changed and buffered questions are stale.
	ForceRefresh()
}

type QueueSettingsStore interface {
	GetQueueSettings(ctx context.Context) (QueueSettings, bool, error)
	SetQueueSettings(ctx context.Context, settings QueueSettings) error
}

type QueueSettingsManager struct {
	mu      sync.Mutex
	engine  QueueSettingsEngine
	store   QueueSettingsStore
	current QueueSettings
	timeout time.Duration
}

func NewQueueSettingsManager(engine QueueSettingsEngine, store QueueSettingsStore, initial QueueSettings) *QueueSettingsManager {
	return &QueueSettingsManager{
		engine:  engine,
		store:   store,
		current: initial,
		timeout: 5 * time.Second,
	}
}

// DefaultQueueSettings derives the starting settings from the environment config.
func DefaultQueueSettings(cfg Config) QueueSettings {
	return QueueSettings{
		TargetQueueSize:      cfg.QueueTargetSize,
		MaxConcurrentFetches: cfg.QueueMaxConcurrent,
		MaxCacheSizeMB:       int(cfg.VideoCacheMaxBytes / (1024 * 1024)),
		Profile: domain.Profile{
			UserID:           cfg.UserID,
			LearningLanguage: cfg.LearningLanguage,
			NativeLanguage:   cfg.NativeLanguage,
		},
	}
}

// Load overlays persisted settings on top of the current ones and applies them.
func (m *QueueSettingsManager) Load(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	stored, ok, err := m.store.GetQueueSettings(ctx)
	if err != nil || !ok {
		return false, err
	}
	if stored.Validate() != nil {
		return false, nil
	}
	m.mu.Lock()
	m.current = stored
	m.mu.Unlock()
	m.apply(stored, false)
	return true, nil
}

func (m *QueueSettingsManager) Get() QueueSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *QueueSettingsManager) Update(s QueueSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	m.apply(s, prev.Profile != s.Profile)

	if m.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.store.SetQueueSettings(ctx, s); err != nil {
		m.mu.Lock()
		m.current = prev
		m.mu.Unlock()
		m.apply(prev, prev.Profile != s.Profile)
		return err
	}
	return nil
}

func (m *QueueSettingsManager) apply(s QueueSettings, profileChanged bool) {
	m.engine.ApplyLimits(s.TargetQueueSize, s.MaxConcurrentFetches)
	m.engine.SetMaxCacheBytes(int64(s.MaxCacheSizeMB) * 1024 * 1024)
	m.engine.SetProfile(s.Profile)
	if profileChanged {
		m.engine.ForceRefresh()
	}
}
