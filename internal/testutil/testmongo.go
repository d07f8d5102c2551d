package testutil

import (
	"context"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/zhejian/pastebin/internal/infra"
	"go.mongodb.org/mongo-driver/mongo"
)

// TestMongo holds test MongoDB resources
type TestMongo struct {
	Client    *mongo.Client
	container *mongodb.MongoDBContainer
}

// SetupTestMongo starts a MongoDB container and connects to it
func SetupTestMongo(ctx context.Context) (*TestMongo, error) {
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return nil, err
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	client, err := infra.NewMongoClient(ctx, uri)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	return &TestMongo{Client: client, container: container}, nil
}

// Cleanup drops the given database
func (t *TestMongo) Cleanup(ctx context.Context, database string) {
	if t == nil || t.Client == nil {
		return
	}
	_ = t.Client.Database(database).Drop(ctx)
}

// Container returns the underlying mongodb container for direct access.
func (t *TestMongo) Container() *mongodb.MongoDBContainer {
	return t.container
}

// Teardown disconnects and terminates container
func (t *TestMongo) Teardown(ctx context.Context) {
	if t.Client != nil {
		_ = t.Client.Disconnect(ctx)
	}
	if t.container != nil {
		if err := t.container.Terminate(ctx); err != nil {
			return
		}
	}
}
