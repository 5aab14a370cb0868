package domain

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

type QuestionType string

const (
	QuestionRecognition       QuestionType = "recognition"
	QuestionMCDefinition      QuestionType = "mc_definition"
	QuestionMCWord            QuestionType = "mc_word"
	QuestionFillBlank         QuestionType = "fill_blank"
	QuestionPronounceSentence QuestionType = "pronounce_sentence"
	QuestionVideoMC           QuestionType = "video_mc"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionRecognition, QuestionMCDefinition, QuestionMCWord,
		QuestionFillBlank, QuestionPronounceSentence, QuestionVideoMC:
		return true
	}
	return false
}

// SourceTag is the server-assigned reason a word was scheduled.
type SourceTag string

const (
	SourceNew             SourceTag = "new"
	SourceTestPractice    SourceTag = "test_practice"
	SourceNonTestPractice SourceTag = "non_test_practice"
	SourceNotDueYet       SourceTag = "not_due_yet"
)

// ReviewQuestion is treated as immutable once built. Payload is opaque
// question content rendered by the UI.
type ReviewQuestion struct {
	Word         string          `json:"word"`
	QuestionType QuestionType    `json:"question_type"`
	VideoID      *int64          `json:"video_id,omitempty"`
	Source       SourceTag       `json:"source,omitempty"`
	Payload      json.RawMessage `json:"question,omitempty"`
}

// IsVideo reports whether the question can only be shown once its video is cached.
func (q ReviewQuestion) IsVideo() bool {
	return q.QuestionType == QuestionVideoMC && q.VideoID != nil
}

// VideoIDValue returns the video id, or 0 for non-video questions.
func (q ReviewQuestion) VideoIDValue() int64 {
	if q.VideoID == nil {
		return 0
	}
	return *q.VideoID
}

func (q ReviewQuestion) Validate() error {
	if strings.TrimSpace(q.Word) == "" {
		return ErrInvalidQuestion
	}
	if !q.QuestionType.Valid() {
		return ErrInvalidQuestion
	}
	if q.QuestionType == QuestionVideoMC && q.VideoID == nil {
		return ErrInvalidQuestion
	}
	return nil
}

// QuestionBatch is one response of the review batch endpoint.
type QuestionBatch struct {
	Questions      []ReviewQuestion `json:"questions"`
	HasMore        bool             `json:"has_more"`
	TotalAvailable int              `json:"total_available"`
}

// Profile carries the user preferences the queue depends on.
type Profile struct {
	UserID           string `json:"userId"`
	LearningLanguage string `json:"learningLanguage"`
	NativeLanguage   string `json:"nativeLanguage"`
}

// QuestionCacheKey identifies one persisted question.
type QuestionCacheKey struct {
	Word             string
	LearningLanguage string
	NativeLanguage   string
}

func (k QuestionCacheKey) String() string {
	return NormalizeWord(k.Word) + "|" + k.LearningLanguage + "|" + k.NativeLanguage
}

// NormalizeWord trims, composes (NFC) and case-folds a word so that visually
// identical spellings share one cache key.
func NormalizeWord(w string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(w)))
}
