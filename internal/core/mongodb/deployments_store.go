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

type deploymentsStore struct {
	collection *mongo.Collection
}

// NewDeploymentsStore returns a MongoDB-based core.DeploymentsStore.
func NewDeploymentsStore(
	database *mongo.Database,
) (core.DeploymentsStore, error) {
	collection, err := collectionWithIndexes(
		database,
		"deployments",
		mongo.IndexModel{
			Keys: bson.D{
				{Key: "serviceID", Value: 1},
				{Key: "status", Value: 1},
			},
		},
	)
	if err != nil {
		return nil, err
	}
	return &deploymentsStore{
		collection: collection,
	}, nil
}

func (d *deploymentsStore) Create(
	ctx context.Context,
	deployment core.Deployment,
) error {
	if deployment.Created == nil {
		deployment.Created = now()
	}
	return insert(ctx, d.collection, "Deployment", deployment.ID, deployment)
}

func (d *deploymentsStore) Get(
	ctx context.Context,
	id string,
) (core.Deployment, error) {
	deployment := core.Deployment{}
	err := findOne(
		ctx,
		d.collection,
		"Deployment",
		id,
		bson.M{"metadata.id": id},
		&deployment,
	)
	return deployment, err
}

func (d *deploymentsStore) ListByService(
	ctx context.Context,
	serviceID string,
) ([]core.Deployment, error) {
	deployments := []core.Deployment{}
	findOptions := options.Find()
	findOptions.SetSort(bson.M{"metadata.created": 1})
	cur, err := d.collection.Find(
		ctx,
		bson.M{"serviceID": serviceID},
		findOptions,
	)
	if err != nil {
		return deployments, errors.Wrapf(
			err,
			"error finding deployments of service %q",
			serviceID,
		)
	}
	if err := cur.All(ctx, &deployments); err != nil {
		return deployments, errors.Wrap(err, "error decoding deployments")
	}
	return deployments, nil
}

func (d *deploymentsStore) CountByServiceAndStatus(
	ctx context.Context,
	serviceID string,
	status core.DeploymentStatus,
) (int64, error) {
	count, err := d.collection.CountDocuments(
		ctx,
		bson.M{
			"serviceID": serviceID,
			"status":    status,
		},
	)
	return count, errors.Wrapf(
		err,
		"error counting deployments of service %q",
		serviceID,
	)
}

func (d *deploymentsStore) Finish(
	ctx context.Context,
	id string,
	status core.DeploymentStatus,
	logs []string,
	errMsg string,
) error {
	if logs == nil {
		logs = []string{}
	}
	// The status condition makes the terminal transition happen at most once.
	res, err := d.collection.UpdateOne(
		ctx,
		bson.M{
			"metadata.id": id,
			"status":      core.DeploymentStatusBuilding,
		},
		bson.M{
			"$set": bson.M{
				"status":   status,
				"logs":     logs,
				"error":    errMsg,
				"finished": now(),
			},
		},
	)
	if err != nil {
		return errors.Wrapf(err, "error updating deployment %q", id)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	deployment, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	return &meta.ErrConflict{
		Type: "Deployment",
		ID:   id,
		Reason: "Deployment has already finished with status " +
			string(deployment.Status) + ".",
	}
}
