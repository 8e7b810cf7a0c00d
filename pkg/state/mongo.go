package state

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// MongoStore keeps states in a MongoDB collection, one document per stream.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to uri and ensures the (connector, stream) index.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if database == "" {
		database = "nebula_sync"
	}
	if collection == "" {
		collection = "sync_state"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to state store")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping state store")
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "connector", Value: 1}, {Key: "stream", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to create state index")
	}
	return &MongoStore{client: client, collection: coll}, nil
}

func mongoFilter(connector, stream string) bson.D {
	return bson.D{{Key: "connector", Value: connector}, {Key: "stream", Value: stream}}
}

// Get implements Store.
func (m *MongoStore) Get(ctx context.Context, connector, stream string) (*SyncState, error) {
	var s SyncState
	err := m.collection.FindOne(ctx, mongoFilter(connector, stream)).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read sync state")
	}
	return &s, nil
}

// Save implements Store.
func (m *MongoStore) Save(ctx context.Context, s *SyncState) error {
	doc := *s
	if doc.Version == 0 {
		doc.Version = SchemaVersion
	}
	doc.UpdatedAt = time.Now().UTC()

	_, err := m.collection.ReplaceOne(ctx, mongoFilter(s.Connector, s.Stream), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to save sync state")
	}
	return nil
}

// Delete implements Store.
func (m *MongoStore) Delete(ctx context.Context, connector, stream string) error {
	if _, err := m.collection.DeleteOne(ctx, mongoFilter(connector, stream)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to delete sync state")
	}
	return nil
}

// Close implements Store.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
