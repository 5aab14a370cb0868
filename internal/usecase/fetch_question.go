package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dogetionary/internal/domain"
	"dogetionary/internal/domain/ports"
	"dogetionary/internal/metrics"
	"dogetionary/internal/telemetry"
)

// RetryFunc runs fn, retrying transient failures.
type RetryFunc func(ctx context.Context, fn func() error) error

// FetchResult is the outcome of one count=1 call. Counters are valid even
// when VideoErr is set.
type FetchResult struct {
	Question       domain.ReviewQuestion
	Empty          bool
	HasMore        bool
	TotalAvailable int
	VideoPath      string
	VideoErr       error
}

// QuestionFetcher is what the review queue needs from the fetch pipeline.
type QuestionFetcher interface {
	FetchOne(ctx context.Context, exclude []string) (FetchResult, error)
	MakeReady(ctx context.Context, q domain.ReviewQuestion) (string, error)
}

type FetchQuestionConfig struct {
	Source  ports.QuestionSource
	Videos  ports.VideoCoordinator
	Cache   ports.QuestionCache
	Logger  *slog.Logger
	Retry   RetryFunc
	Profile domain.Profile
}

// FetchQuestion pulls one question at a time from the server, records it in
// the question cache and makes sure its video is local before handing it out.
// It writes the cache but never reads it: every question comes from the
// network so server ordering is preserved.
type FetchQuestion struct {
	source ports.QuestionSource
	videos ports.VideoCoordinator
	cache  ports.QuestionCache
	logger *slog.Logger
	retry  RetryFunc

	mu      sync.RWMutex
	profile domain.Profile
}

func NewFetchQuestion(cfg FetchQuestionConfig) *FetchQuestion {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry == nil {
		retry = func(_ context.Context, fn func() error) error { return fn() }
	}
	return &FetchQuestion{
		source:  cfg.Source,
		videos:  cfg.Videos,
		cache:   cfg.Cache,
		logger:  logger,
		retry:   retry,
		profile: cfg.Profile,
	}
}

func (f *FetchQuestion) Profile() domain.Profile {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.profile
}

// SetProfile affects fetches started after the call.
func (f *FetchQuestion) SetProfile(p domain.Profile) {
	f.mu.Lock()
	f.profile = p
	f.mu.Unlock()
}

func (f *FetchQuestion) FetchOne(ctx context.Context, exclude []string) (FetchResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "queue.fetch_one")
	span.SetAttributes(attribute.Int("exclude.count", len(exclude)))
	defer span.End()

	start := time.Now()
	defer func() { metrics.QuestionFetchDuration.Observe(time.Since(start).Seconds()) }()

	profile := f.Profile()
	var batch domain.QuestionBatch
	err := f.retry(ctx, func() error {
		b, err := f.source.NextReviewBatch(ctx, profile.UserID, 1, exclude)
		if err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FetchResult{}, wrapSource(err)
	}

	res := FetchResult{HasMore: batch.HasMore, TotalAvailable: batch.TotalAvailable}
	if len(batch.Questions) == 0 {
		res.Empty = true
		return res, nil
	}
	q := batch.Questions[0]
	res.Question = q
	span.SetAttributes(
		attribute.String("question.word", q.Word),
		attribute.String("question.type", string(q.QuestionType)),
	)

	f.persist(ctx, profile, q)

	res.VideoPath, res.VideoErr = f.MakeReady(ctx, q)
	if res.VideoErr != nil {
		// Fail open: the question is still usable without its video.
		f.logger.Warn("video not ready, serving question without it",
			slog.String("word", q.Word),
			slog.Int64("videoId", q.VideoIDValue()),
			slog.String("error", res.VideoErr.Error()),
		)
	}
	return res, nil
}

// MakeReady blocks until the question's video is cached. Non-video questions
// are ready immediately.
func (f *FetchQuestion) MakeReady(ctx context.Context, q domain.ReviewQuestion) (string, error) {
	if !q.IsVideo() || f.videos == nil {
		return "", nil
	}
	return f.videos.FetchVideo(ctx, q.VideoIDValue())
}

func (f *FetchQuestion) persist(ctx context.Context, profile domain.Profile, q domain.ReviewQuestion) {
	if f.cache == nil {
		return
	}
	key := domain.QuestionCacheKey{
		Word:             q.Word,
		LearningLanguage: profile.LearningLanguage,
		NativeLanguage:   profile.NativeLanguage,
	}
	if err := f.cache.Put(ctx, key, q); err != nil {
		f.logger.Debug("question cache write failed",
			slog.String("key", key.String()),
			slog.String("error", wrapRepo(err).Error()),
		)
	}
}
