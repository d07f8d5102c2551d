package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zhejian/pastebin/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoPaste is the stored document. PurgeAt drives the TTL index that
// physically removes pastes some time after they stop being servable.
type mongoPaste struct {
	model.Paste `bson:",inline"`
	PurgeAt     *time.Time `bson:"purge_at,omitempty"`
}

// MongoPasteRepository implements PasteRepositoryInterface using MongoDB
type MongoPasteRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	purgeAfter time.Duration
}

// NewMongoPasteRepository creates the repository and ensures its indexes
func NewMongoPasteRepository(ctx context.Context, client *mongo.Client, database, collection string, timeout, purgeAfter time.Duration) (*MongoPasteRepository, error) {
	r := &MongoPasteRepository{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    timeout,
		purgeAfter: purgeAfter,
	}
	if err := r.createIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// createIndexes creates necessary indexes for the collection
func (r *MongoPasteRepository) createIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "purge_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	createdAtIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		ttlIndex,
		createdAtIndex,
	})
	return err
}

// Create inserts a paste document
func (r *MongoPasteRepository) Create(ctx context.Context, paste *model.Paste) error {
	ctx, span := startDBSpan(ctx, "db.insert", "mongodb", "insertOne", r.collection.Name(), paste.ID)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc := mongoPaste{Paste: *paste}
	if paste.ExpiresAt != nil && r.purgeAfter > 0 {
		purgeAt := time.UnixMilli(*paste.ExpiresAt).Add(r.purgeAfter)
		doc.PurgeAt = &purgeAt
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrIDConflict
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// GetByID retrieves a paste document by id
func (r *MongoPasteRepository) GetByID(ctx context.Context, id string) (*model.Paste, error) {
	ctx, span := startDBSpan(ctx, "db.select", "mongodb", "findOne", r.collection.Name(), id)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var doc mongoPaste
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return &doc.Paste, nil
}

// IncrementViewCount performs the conditional $inc in a single
// findOneAndUpdate so the limit check and the increment cannot interleave.
func (r *MongoPasteRepository) IncrementViewCount(ctx context.Context, id string, maxViews *int64) (*model.Paste, error) {
	ctx, span := startDBSpan(ctx, "db.update", "mongodb", "findOneAndUpdate", r.collection.Name(), id)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	filter := bson.M{"_id": id}
	if maxViews != nil {
		filter["view_count"] = bson.M{"$lt": *maxViews}
	}
	update := bson.M{"$inc": bson.M{"view_count": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoPaste
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, missingOrExhausted(maxViews)
		}
		span.RecordError(err)
		return nil, err
	}
	return &doc.Paste, nil
}

// Ping checks MongoDB connectivity
func (r *MongoPasteRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx, nil)
}

// Close disconnects the MongoDB client
func (r *MongoPasteRepository) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.client.Disconnect(ctx)
}
