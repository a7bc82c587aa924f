package mongodb

import (
	"context"
	"time"

	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/meta"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongodbTimeout = 5 * time.Second

// NewStores returns a complete set of MongoDB-based stores.
func NewStores(database *mongo.Database) (core.Stores, error) {
	stores := core.Stores{}
	var err error
	if stores.Projects, err = NewProjectsStore(database); err != nil {
		return stores, err
	}
	if stores.Services, err = NewServicesStore(database); err != nil {
		return stores, err
	}
	if stores.Deployments, err = NewDeploymentsStore(database); err != nil {
		return stores, err
	}
	if stores.Templates, err = NewTemplatesStore(database); err != nil {
		return stores, err
	}
	if stores.Hosts, err = NewHostsStore(database); err != nil {
		return stores, err
	}
	return stores, nil
}

// collectionWithIndexes returns the named collection after ensuring it has a
// unique index on metadata.id plus any additional indexes provided.
func collectionWithIndexes(
	database *mongo.Database,
	name string,
	additional ...mongo.IndexModel,
) (*mongo.Collection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongodbTimeout)
	defer cancel()
	unique := true
	collection := database.Collection(name)
	indexes := append(
		[]mongo.IndexModel{
			{
				Keys: bson.M{
					"metadata.id": 1,
				},
				Options: &options.IndexOptions{
					Unique: &unique,
				},
			},
		},
		additional...,
	)
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, errors.Wrapf(
			err,
			"error adding indexes to %s collection",
			name,
		)
	}
	return collection, nil
}

// insert inserts a document, translating duplicate key errors into a
// *meta.ErrConflict.
func insert(
	ctx context.Context,
	collection *mongo.Collection,
	kind string,
	id string,
	doc interface{},
) error {
	if _, err := collection.InsertOne(ctx, doc); err != nil {
		if writeException, ok := err.(mongo.WriteException); ok {
			if len(writeException.WriteErrors) == 1 &&
				writeException.WriteErrors[0].Code == 11000 {
				return &meta.ErrConflict{
					Type:   kind,
					ID:     id,
					Reason: "A " + kind + " with this ID already exists.",
				}
			}
		}
		return errors.Wrapf(err, "error inserting new %s %q", kind, id)
	}
	return nil
}

// findOne decodes the single document matching the filter into obj.
func findOne(
	ctx context.Context,
	collection *mongo.Collection,
	kind string,
	id string,
	filter bson.M,
	obj interface{},
) error {
	res := collection.FindOne(ctx, filter)
	if res.Err() == mongo.ErrNoDocuments {
		return &meta.ErrNotFound{Type: kind, ID: id}
	}
	if res.Err() != nil {
		return errors.Wrapf(res.Err(), "error finding %s %q", kind, id)
	}
	return errors.Wrapf(res.Decode(obj), "error decoding %s %q", kind, id)
}

// exists returns true if any document matches the filter.
func exists(
	ctx context.Context,
	collection *mongo.Collection,
	filter bson.M,
) (bool, error) {
	count, err := collection.CountDocuments(
		ctx,
		filter,
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, errors.Wrap(err, "error counting documents")
	}
	return count > 0, nil
}

func now() *time.Time {
	t := time.Now().UTC()
	return &t
}
