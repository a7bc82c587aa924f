package mongodb

import (
	"context"

	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/meta"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type servicesStore struct {
	collection *mongo.Collection
}

// NewServicesStore returns a MongoDB-based core.ServicesStore.
func NewServicesStore(database *mongo.Database) (core.ServicesStore, error) {
	collection, err := collectionWithIndexes(
		database,
		"services",
		mongo.IndexModel{
			Keys: bson.D{
				{Key: "tenantSlug", Value: 1},
				{Key: "name", Value: 1},
			},
		},
		mongo.IndexModel{
			Keys: bson.D{
				{Key: "projectID", Value: 1},
				{Key: "name", Value: 1},
			},
		},
	)
	if err != nil {
		return nil, err
	}
	return &servicesStore{
		collection: collection,
	}, nil
}

func (s *servicesStore) Create(ctx context.Context, service core.Service) error {
	if service.Created == nil {
		service.Created = now()
	}
	return insert(ctx, s.collection, "Service", service.ID, service)
}

func (s *servicesStore) Get(ctx context.Context, id string) (core.Service, error) {
	service := core.Service{}
	err := findOne(
		ctx,
		s.collection,
		"Service",
		id,
		bson.M{"metadata.id": id},
		&service,
	)
	return service, err
}

func (s *servicesStore) GetByName(
	ctx context.Context,
	projectID string,
	name string,
) (core.Service, error) {
	service := core.Service{}
	err := findOne(
		ctx,
		s.collection,
		"Service",
		name,
		bson.M{
			"projectID": projectID,
			"name":      name,
		},
		&service,
	)
	return service, err
}

func (s *servicesStore) ListByProject(
	ctx context.Context,
	projectID string,
) ([]core.Service, error) {
	services := []core.Service{}
	findOptions := options.Find()
	findOptions.SetSort(bson.M{"metadata.created": 1})
	cur, err := s.collection.Find(
		ctx,
		bson.M{"projectID": projectID},
		findOptions,
	)
	if err != nil {
		return services, errors.Wrapf(
			err,
			"error finding services of project %q",
			projectID,
		)
	}
	if err := cur.All(ctx, &services); err != nil {
		return services, errors.Wrap(err, "error decoding services")
	}
	return services, nil
}

func (s *servicesStore) ExistsByName(
	ctx context.Context,
	tenantSlug string,
	name string,
) (bool, error) {
	return exists(
		ctx,
		s.collection,
		bson.M{
			"tenantSlug": tenantSlug,
			"name":       name,
		},
	)
}

func (s *servicesStore) UpdatePopulatedVariables(
	ctx context.Context,
	id string,
	populated map[string]string,
	deferred []string,
) error {
	if deferred == nil {
		deferred = []string{}
	}
	res, err := s.collection.UpdateOne(
		ctx,
		bson.M{"metadata.id": id},
		bson.M{
			"$set": bson.M{
				"populatedVariables": populated,
				"deferredVariables":  deferred,
			},
		},
	)
	if err != nil {
		return errors.Wrapf(
			err,
			"error updating populated variables of service %q",
			id,
		)
	}
	if res.MatchedCount == 0 {
		return &meta.ErrNotFound{Type: "Service", ID: id}
	}
	return nil
}
