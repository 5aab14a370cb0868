package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dogetionary/internal/app"
	"dogetionary/internal/domain"
)

const queueSettingsID = "queue"

type queueSettingsDoc struct {
	ID                   string `bson:"_id"`
	TargetQueueSize      int    `bson:"targetQueueSize"`
	MaxConcurrentFetches int    `bson:"maxConcurrentFetches"`
	MaxCacheSizeMB       int    `bson:"maxCacheSizeMB"`
	UserID               string `bson:"userId"`
	LearningLanguage     string `bson:"learningLanguage"`
	NativeLanguage       string `bson:"nativeLanguage"`
	UpdatedAt            int64  `bson:"updatedAt"`
}

type QueueSettingsRepository struct {
	collection *mongo.Collection
}

func NewQueueSettingsRepository(client *mongo.Client, dbName string) *QueueSettingsRepository {
	return &QueueSettingsRepository{collection: client.Database(dbName).Collection("settings")}
}

func (r *QueueSettingsRepository) GetQueueSettings(ctx context.Context) (app.QueueSettings, bool, error) {
	var doc queueSettingsDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": queueSettingsID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return app.QueueSettings{}, false, nil
		}
		return app.QueueSettings{}, false, err
	}
	return settingsFromDoc(doc), true, nil
}

func (r *QueueSettingsRepository) SetQueueSettings(ctx context.Context, settings app.QueueSettings) error {
	update := bson.M{"$set": settingsToSet(settings, time.Now())}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": queueSettingsID},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func settingsFromDoc(doc queueSettingsDoc) app.QueueSettings {
	return app.QueueSettings{
		TargetQueueSize:      doc.TargetQueueSize,
		MaxConcurrentFetches: doc.MaxConcurrentFetches,
		MaxCacheSizeMB:       doc.MaxCacheSizeMB,
		Profile: domain.Profile{
			UserID:           doc.UserID,
			LearningLanguage: doc.LearningLanguage,
			NativeLanguage:   doc.NativeLanguage,
		},
	}
}

func settingsToSet(s app.QueueSettings, now time.Time) bson.M {
	return bson.M{
		"targetQueueSize":      s.TargetQueueSize,
		"maxConcurrentFetches": s.MaxConcurrentFetches,
		"maxCacheSizeMB":       s.MaxCacheSizeMB,
		"userId":               s.Profile.UserID,
		"learningLanguage":     s.Profile.LearningLanguage,
		"nativeLanguage":       s.Profile.NativeLanguage,
		"updatedAt":            now.Unix(),
	}
}
