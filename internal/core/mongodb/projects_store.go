package mongodb

import (
	"context"

	"github.com/krancour/hoist/internal/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type projectsStore struct {
	collection *mongo.Collection
}

// NewProjectsStore returns a MongoDB-based core.ProjectsStore.
func NewProjectsStore(database *mongo.Database) (core.ProjectsStore, error) {
	collection, err := collectionWithIndexes(
		database,
		"projects",
		mongo.IndexModel{
			Keys: bson.D{
				{Key: "tenantSlug", Value: 1},
				{Key: "name", Value: 1},
			},
		},
	)
	if err != nil {
		return nil, err
	}
	return &projectsStore{
		collection: collection,
	}, nil
}

func (p *projectsStore) Create(ctx context.Context, project core.Project) error {
	if project.Created == nil {
		project.Created = now()
	}
	return insert(ctx, p.collection, "Project", project.ID, project)
}

func (p *projectsStore) Get(ctx context.Context, id string) (core.Project, error) {
	project := core.Project{}
	err := findOne(
		ctx,
		p.collection,
		"Project",
		id,
		bson.M{"metadata.id": id},
		&project,
	)
	return project, err
}

func (p *projectsStore) ExistsByName(
	ctx context.Context,
	tenantSlug string,
	name string,
) (bool, error) {
	return exists(
		ctx,
		p.collection,
		bson.M{
			"tenantSlug": tenantSlug,
			"name":       name,
		},
	)
}
