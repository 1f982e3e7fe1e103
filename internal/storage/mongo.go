package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"price-tracker/internal/config"
	"price-tracker/internal/money"
)

const (
	defaultMongoDatabase   = "pricetracker"
	defaultMongoCollection = "tracked_items"
	mongoOpTimeout         = 10 * time.Second
	mongoMaxUpdateAttempts = 5
)

var errVersionConflict = errors.New("storage: concurrent update")

type mongoItem struct {
	ID                  string     `bson:"_id"`
	Owner               string     `bson:"owner"`
	URL                 string     `bson:"url"`
	Domain              string     `bson:"domain"`
	Name                string     `bson:"name"`
	LastPriceMinor      *int64     `bson:"last_price_minor,omitempty"`
	Currency            string     `bson:"currency"`
	LastChecked         *time.Time `bson:"last_checked,omitempty"`
	LastAttempt         *time.Time `bson:"last_attempt,omitempty"`
	ConsecutiveFailures int        `bson:"consecutive_failures"`
	Degraded            bool       `bson:"degraded"`
	CreatedAt           time.Time  `bson:"created_at"`
	Version             int64      `bson:"version"`
}

func (d mongoItem) toItem() TrackedItem {
	item := TrackedItem{
		ID:                  d.ID,
		Owner:               d.Owner,
		URL:                 d.URL,
		Domain:              d.Domain,
		Name:                d.Name,
		Currency:            d.Currency,
		ConsecutiveFailures: d.ConsecutiveFailures,
		Degraded:            d.Degraded,
		CreatedAt:           d.CreatedAt.UTC(),
	}
	if d.LastPriceMinor != nil {
		item.LastKnownPrice = &money.Price{Amount: *d.LastPriceMinor, Currency: d.Currency}
	}
	if d.LastChecked != nil {
		item.LastChecked = d.LastChecked.UTC()
	}
	if d.LastAttempt != nil {
		item.LastAttempt = d.LastAttempt.UTC()
	}
	return item
}

// Mongo stores items as documents. Per-item updates use an optimistic
// version check.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects, selects the collection and ensures its indexes.
func NewMongo(parentCtx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("storage.mongo.uri is required")
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	collName := cfg.Collection
	if collName == "" {
		collName = defaultMongoCollection
	}

	ctx, cancel := context.WithTimeout(parentCtx, mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Mongo{client: client, coll: client.Database(dbName).Collection(collName)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Mongo) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Register inserts a new item.
func (s *Mongo) Register(ctx context.Context, owner, url, domain string) (TrackedItem, error) {
	item := newItem(owner, url, domain, time.Now().UTC().Truncate(time.Millisecond))
	doc := mongoItem{
		ID:        item.ID,
		Owner:     item.Owner,
		URL:       item.URL,
		Domain:    item.Domain,
		CreatedAt: item.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return TrackedItem{}, ErrAlreadyTracked
		}
		return TrackedItem{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

func (s *Mongo) load(ctx context.Context, id string) (mongoItem, error) {
	var doc mongoItem
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return mongoItem{}, ErrNotFound
	}
	if err != nil {
		return mongoItem{}, fmt.Errorf("find item: %w", err)
	}
	return doc, nil
}

// Get loads a single item.
func (s *Mongo) Get(ctx context.Context, id string) (TrackedItem, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return TrackedItem{}, err
	}
	return doc.toItem(), nil
}

// List returns owner's items ordered by creation.
func (s *Mongo) List(ctx context.Context, owner string) ([]TrackedItem, error) {
	return s.find(ctx, bson.M{"owner": owner})
}

// All returns every item.
func (s *Mongo) All(ctx context.Context) ([]TrackedItem, error) {
	return s.find(ctx, bson.M{})
}

func (s *Mongo) find(ctx context.Context, filter bson.M) ([]TrackedItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find items: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]TrackedItem, 0)
	for cursor.Next(ctx) {
		var doc mongoItem
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, doc.toItem())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return items, nil
}

// Remove deletes the item if owner owns it.
func (s *Mongo) Remove(ctx context.Context, owner, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "owner": owner})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertReading compares and stores the reading.
func (s *Mongo) UpsertReading(ctx context.Context, id string, reading PriceReading) (ChangeResult, error) {
	var res ChangeResult
	err := s.update(ctx, id, func(item TrackedItem) TrackedItem {
		var next TrackedItem
		next, res = ApplyReading(item, reading)
		return next
	})
	return res, err
}

// RecordFailure increments the failure counter.
func (s *Mongo) RecordFailure(ctx context.Context, id string, at time.Time) (TrackedItem, error) {
	var out TrackedItem
	err := s.update(ctx, id, func(item TrackedItem) TrackedItem {
		out = ApplyFailure(item, at)
		return out
	})
	return out, err
}

// MarkDegraded flags the item once.
func (s *Mongo) MarkDegraded(ctx context.Context, id string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "degraded": false},
		bson.M{"$set": bson.M{"degraded": true}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return false, fmt.Errorf("mark degraded: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if _, err := s.load(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Mongo) update(ctx context.Context, id string, mutate func(TrackedItem) TrackedItem) error {
	for attempt := 0; attempt < mongoMaxUpdateAttempts; attempt++ {
		doc, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		next := mutate(doc.toItem())
		set := bson.M{
			"name":                 next.Name,
			"currency":             next.Currency,
			"consecutive_failures": next.ConsecutiveFailures,
			"degraded":             next.Degraded,
		}
		if next.LastKnownPrice != nil {
			set["last_price_minor"] = next.LastKnownPrice.Amount
		}
		if !next.LastChecked.IsZero() {
			set["last_checked"] = next.LastChecked
		}
		if !next.LastAttempt.IsZero() {
			set["last_attempt"] = next.LastAttempt
		}

		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": id, "version": doc.Version},
			bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return fmt.Errorf("update item %s: %w", id, errVersionConflict)
}

var _ ItemStore = (*Mongo)(nil)
