package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"dogetionary/internal/domain"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrNoUsableQuestions means every question in a non-empty batch failed
	// to decode or validate.
	ErrNoUsableQuestions = errors.New("no usable questions in batch")
)

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.Code)
	}
	return fmt.Sprintf("%s: %d %s", ErrUnexpectedStatus, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Client talks to the vocabulary backend: the review batch endpoint and the
// video download endpoint.
type Client struct {
	baseURL     string
	http        *http.Client
	videoClient *http.Client
	logger      *slog.Logger
}

type Config struct {
	BaseURL string
	// Client is used for JSON calls; VideoClient for downloads, which must not
	// carry a short overall timeout.
	Client      *http.Client
	VideoClient *http.Client
	Logger      *slog.Logger
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	videoClient := cfg.VideoClient
	if videoClient == nil {
		videoClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:        httpClient,
		videoClient: videoClient,
		logger:      logger,
	}
}

type batchResponse struct {
	Questions      []json.RawMessage `json:"questions"`
	HasMore        bool              `json:"has_more"`
	TotalAvailable int               `json:"total_available"`
}

// NextReviewBatch calls GET /next-review-words-batch. Questions that fail to
// decode or validate are dropped individually and logged; a malformed envelope,
// or a batch where every question was dropped, is an error. The counters are
// returned alongside ErrNoUsableQuestions.
func (c *Client) NextReviewBatch(ctx context.Context, userID string, count int, excludeWords []string) (domain.QuestionBatch, error) {
	if count <= 0 {
		count = 1
	}
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("count", strconv.Itoa(count))
	if exclude := c.excludeParam(excludeWords); exclude != "" {
		params.Set("exclude_words", exclude)
	}
	endpoint := c.baseURL + "/next-review-words-batch?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.QuestionBatch{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.QuestionBatch{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.QuestionBatch{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload batchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return domain.QuestionBatch{}, fmt.Errorf("decode review batch: %w", err)
	}

	batch := domain.QuestionBatch{
		HasMore:        payload.HasMore,
		TotalAvailable: payload.TotalAvailable,
		Questions:      make([]domain.ReviewQuestion, 0, len(payload.Questions)),
	}
	var firstErr error
	for i, raw := range payload.Questions {
		q, err := decodeQuestion(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("review question dropped",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch.Questions = append(batch.Questions, q)
	}
	if len(payload.Questions) > 0 && len(batch.Questions) == 0 {
		return batch, fmt.Errorf("%w: %d dropped: %v", ErrNoUsableQuestions, len(payload.Questions), firstErr)
	}
	return batch, nil
}

// excludeParam joins words with commas. The backend splits on commas, so a
// word containing one cannot be excluded and is left out.
func (c *Client) excludeParam(words []string) string {
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if strings.Contains(w, ",") {
			c.logger.Debug("exclude word contains a comma, not sent", slog.String("word", w))
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, ",")
}

// wireQuestion accepts the backend's field spellings.
type wireQuestion struct {
	Word         string          `json:"word"`
	QuestionType string          `json:"question_type"`
	VideoID      *int64          `json:"video_id"`
	Source       string          `json:"source"`
	Question     json.RawMessage `json:"question"`
}

func decodeQuestion(raw json.RawMessage) (domain.ReviewQuestion, error) {
	var w wireQuestion
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.ReviewQuestion{}, err
	}
	qType := domain.QuestionType(w.QuestionType)
	videoID := w.VideoID
	// Video id is sometimes nested inside the question body.
	if videoID == nil && qType == domain.QuestionVideoMC && len(w.Question) > 0 {
		var nested struct {
			VideoID *int64 `json:"video_id"`
		}
		if json.Unmarshal(w.Question, &nested) == nil {
			videoID = nested.VideoID
		}
	}
	q := domain.ReviewQuestion{
		Word:         strings.TrimSpace(w.Word),
		QuestionType: qType,
		VideoID:      videoID,
		Source:       domain.SourceTag(w.Source),
		Payload:      w.Question,
	}
	if err := q.Validate(); err != nil {
		return domain.ReviewQuestion{}, err
	}
	return q, nil
}

// OpenVideo starts GET /videos/{id}. The caller owns the returned body.
func (c *Client) OpenVideo(ctx context.Context, videoID int64) (io.ReadCloser, int64, string, error) {
	endpoint := c.baseURL + "/videos/" + strconv.FormatInt(videoID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, "", err
	}
	resp, err := c.videoClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, "", fmt.Errorf("video %d: %w", videoID, &StatusError{Code: resp.StatusCode})
	}
	return resp.Body, resp.ContentLength, extensionFor(resp), nil
}

func extensionFor(resp *http.Response) string {
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if ext := strings.TrimPrefix(path.Ext(params["filename"]), "."); ext != "" {
			return strings.ToLower(ext)
		}
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "video/webm":
		return "webm"
	case "video/quicktime":
		return "mov"
	case "video/x-m4v":
		return "m4v"
	default:
		return "mp4"
	}
}
