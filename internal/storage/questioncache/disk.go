package questioncache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dogetionary/internal/domain"
)

type record struct {
	Key      string                `json:"key"`
	Question domain.ReviewQuestion `json:"question"`
	StoredAt time.Time             `json:"storedAt"`
}

// DiskCache keeps one JSON file per question key. Unreadable files are
// removed and reported as misses.
type DiskCache struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewDiskCache(dir string, ttl time.Duration, logger *slog.Logger) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create question cache dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskCache{dir: dir, ttl: ttl, now: time.Now, logger: logger}, nil
}

func (c *DiskCache) path(key domain.QuestionCacheKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".json")
}

func (c *DiskCache) Put(_ context.Context, key domain.QuestionCacheKey, q domain.ReviewQuestion) error {
	data, err := json.Marshal(record{Key: key.String(), Question: q, StoredAt: c.now().UTC()})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".q-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (c *DiskCache) Get(_ context.Context, key domain.QuestionCacheKey) (domain.ReviewQuestion, bool, error) {
	p := c.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ReviewQuestion{}, false, nil
		}
		return domain.ReviewQuestion{}, false, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Key != key.String() {
		c.logger.Warn("question cache entry unreadable, removing",
			slog.String("key", key.String()),
			slog.String("path", p),
		)
		_ = os.Remove(p)
		return domain.ReviewQuestion{}, false, nil
	}
	if c.ttl > 0 && c.now().Sub(rec.StoredAt) > c.ttl {
		_ = os.Remove(p)
		return domain.ReviewQuestion{}, false, nil
	}
	return rec.Question, true, nil
}

func (c *DiskCache) Delete(_ context.Context, key domain.QuestionCacheKey) error {
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
