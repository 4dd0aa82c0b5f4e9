package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const defaultDatabaseName = "safemap"

var (
	client   *mongo.Client
	database *mongo.Database
)

// Connect opens the MongoDB pool, verifies it with a ping and applies pending
// migrations. fallbackName is used when the URI carries no database path.
func Connect(databaseURL, fallbackName string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(databaseURL)
	clientOptions.SetMaxPoolSize(100)
	clientOptions.SetMinPoolSize(5)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)
	clientOptions.SetReadPreference(readpref.PrimaryPreferred())

	var err error
	client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := databaseName(databaseURL, fallbackName)
	database = client.Database(dbName)
	logrus.WithField("database", dbName).Info("Connected to MongoDB")

	if err := RunMigrations(database); err != nil {
		logrus.Warnf("Migration warning: %v", err)
	}
	return database, nil
}

func Disconnect() error {
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		logrus.Errorf("Error disconnecting from MongoDB: %v", err)
		return err
	}
	logrus.Info("Disconnected from MongoDB")
	return nil
}

// Ping checks the primary is reachable. Used by the health endpoint.
func Ping(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("database not initialized")
	}
	return client.Ping(ctx, readpref.Primary())
}

// databaseName takes the path component of the URI, falling back to
// fallbackName and then to the package default.
func databaseName(uri, fallbackName string) string {
	if cs, err := connstring.ParseAndValidate(uri); err == nil && cs.Database != "" && cs.Database != "admin" {
		return cs.Database
	}
	if fallbackName != "" {
		return fallbackName
	}
	return defaultDatabaseName
}
