package mongodb

import (
	"context"

	"github.com/krancour/hoist/internal/core"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type templatesStore struct {
	collection *mongo.Collection
}

// NewTemplatesStore returns a MongoDB-based core.TemplatesStore.
func NewTemplatesStore(database *mongo.Database) (core.TemplatesStore, error) {
	collection, err := collectionWithIndexes(database, "templates")
	if err != nil {
		return nil, err
	}
	return &templatesStore{
		collection: collection,
	}, nil
}

func (t *templatesStore) Create(
	ctx context.Context,
	template core.Template,
) error {
	if template.Created == nil {
		template.Created = now()
	}
	return insert(ctx, t.collection, "Template", template.ID, template)
}

func (t *templatesStore) Get(
	ctx context.Context,
	id string,
) (core.Template, error) {
	template := core.Template{}
	err := findOne(
		ctx,
		t.collection,
		"Template",
		id,
		bson.M{"metadata.id": id},
		&template,
	)
	return template, err
}

func (t *templatesStore) List(ctx context.Context) ([]core.Template, error) {
	templates := []core.Template{}
	findOptions := options.Find()
	findOptions.SetSort(bson.M{"metadata.id": 1})
	cur, err := t.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return templates, errors.Wrap(err, "error finding templates")
	}
	if err := cur.All(ctx, &templates); err != nil {
		return templates, errors.Wrap(err, "error decoding templates")
	}
	return templates, nil
}
