package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dogetionary/internal/domain"
)

type questionDoc struct {
	ID           string `bson:"_id"`
	Word         string `bson:"word"`
	QuestionType string `bson:"questionType"`
	VideoID      *int64 `bson:"videoId,omitempty"`
	Source       string `bson:"source,omitempty"`
	Payload      string `bson:"payload,omitempty"`
	StoredAt     int64  `bson:"storedAt"`
}

// QuestionCacheRepository persists questions keyed by word and language pair.
type QuestionCacheRepository struct {
	collection *mongo.Collection
	ttl        time.Duration
	now        func() time.Time
}

func NewQuestionCacheRepository(client *mongo.Client, dbName string, ttl time.Duration) *QuestionCacheRepository {
	return &QuestionCacheRepository{
		collection: client.Database(dbName).Collection("questions"),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *QuestionCacheRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "storedAt", Value: -1}},
	})
	return err
}

func (r *QuestionCacheRepository) Put(ctx context.Context, key domain.QuestionCacheKey, q domain.ReviewQuestion) error {
	doc := questionToDoc(key, q, r.now())
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *QuestionCacheRepository) Get(ctx context.Context, key domain.QuestionCacheKey) (domain.ReviewQuestion, bool, error) {
	var doc questionDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ReviewQuestion{}, false, nil
		}
		return domain.ReviewQuestion{}, false, err
	}
	if r.ttl > 0 && r.now().Sub(time.Unix(doc.StoredAt, 0)) > r.ttl {
		_, _ = r.collection.DeleteOne(ctx, bson.M{"_id": doc.ID})
		return domain.ReviewQuestion{}, false, nil
	}
	return questionFromDoc(doc), true, nil
}

func (r *QuestionCacheRepository) Delete(ctx context.Context, key domain.QuestionCacheKey) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": key.String()})
	return err
}

func questionToDoc(key domain.QuestionCacheKey, q domain.ReviewQuestion, now time.Time) questionDoc {
	return questionDoc{
		ID:           key.String(),
		Word:         q.Word,
		QuestionType: string(q.QuestionType),
		VideoID:      q.VideoID,
		Source:       string(q.Source),
		Payload:      string(q.Payload),
		StoredAt:     now.Unix(),
	}
}

func questionFromDoc(doc questionDoc) domain.ReviewQuestion {
	q := domain.ReviewQuestion{
		Word:         doc.Word,
		QuestionType: domain.QuestionType(doc.QuestionType),
		VideoID:      doc.VideoID,
		Source:       domain.SourceTag(doc.Source),
	}
	if doc.Payload != "" {
		q.Payload = []byte(doc.Payload)
	}
	return q
}
