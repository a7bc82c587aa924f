package mongodb

import (
	"context"

	"github.com/krancour/hoist/internal/core"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type hostsStore struct {
	collection *mongo.Collection
}

// NewHostsStore returns a MongoDB-based core.HostsStore.
func NewHostsStore(database *mongo.Database) (core.HostsStore, error) {
	collection, err := collectionWithIndexes(database, "hosts")
	if err != nil {
		return nil, err
	}
	return &hostsStore{
		collection: collection,
	}, nil
}

func (h *hostsStore) Create(ctx context.Context, host core.Host) error {
	if host.Created == nil {
		host.Created = now()
	}
	return insert(ctx, h.collection, "Host", host.ID, host)
}

func (h *hostsStore) Get(ctx context.Context, id string) (core.Host, error) {
	host := core.Host{}
	err := findOne(
		ctx,
		h.collection,
		"Host",
		id,
		bson.M{"metadata.id": id},
		&host,
	)
	return host, err
}

func (h *hostsStore) List(ctx context.Context) ([]core.Host, error) {
	hosts := []core.Host{}
	findOptions := options.Find()
	findOptions.SetSort(bson.M{"metadata.id": 1})
	cur, err := h.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return hosts, errors.Wrap(err, "error finding hosts")
	}
	if err := cur.All(ctx, &hosts); err != nil {
		return hosts, errors.Wrap(err, "error decoding hosts")
	}
	return hosts, nil
}
