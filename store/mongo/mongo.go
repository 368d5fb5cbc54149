// Package mongo is a store.Backend backed by MongoDB, for deployments
// that need the durable tier shared across host-local processes without
// a shared filesystem (spec section 4.7 expansion). Grounded on
// features/session/mongo/clients/mongo/client.go's Options-struct-plus-New
// constructor shape and upsert-by-id pattern.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/voxlogica-project/voxlogica-core/plan"
)

const (
	defaultCollection = "voxlogica_results"
	defaultTimeout     = 5 * time.Second
)

// Options configures the Mongo-backed Backend.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Backend implements store.Backend: one document per NodeId, keyed by
// `_id` = the hex NodeId, in a single collection holding every codec tag.
type Backend struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

type resultDoc struct {
	ID       string `bson:"_id"`
	CodecTag string `bson:"codec_tag"`
	Data     []byte `bson:"data"`
}

// New returns a Backend backed by the given client.
func New(opts Options) (*Backend, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)
	return &Backend{coll: coll, timeout: timeout}, nil
}

// Put implements store.Backend.
func (b *Backend) Put(ctx context.Context, id plan.NodeId, codecTag string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	doc := resultDoc{ID: string(id), CodecTag: codecTag, Data: data}
	opts := options.Replace().SetUpsert(true)
	_, err := b.coll.ReplaceOne(ctx, bson.M{"_id": string(id)}, doc, opts)
	return err
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, id plan.NodeId) (string, []byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var doc resultDoc
	err := b.coll.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, err
	}
	return doc.CodecTag, doc.Data, true, nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, id plan.NodeId) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	_, err := b.coll.DeleteOne(ctx, bson.M{"_id": string(id)})
	return err
}

// Close implements store.Backend. The underlying *mongo.Client is shared
// and owned by the caller that constructed it; Close is a no-op here.
func (b *Backend) Close() error { return nil }
