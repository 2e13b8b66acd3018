package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
)

// Client wraps MongoDB client with additional functionality
type Client struct {
	client   *mongo.Client
	database string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewClient creates a new MongoDB client
func NewClient(cfg config.MongoDBConfig, logger *zap.Logger) (*Client, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.GetMongoURI())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB", zap.String("database", cfg.Database))

	return &Client{
		client:   client,
		database: cfg.Database,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Disconnect closes the MongoDB connection
func (c *Client) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// Ping verifies the connection is still usable
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx, nil)
}

// Database returns the configured database
func (c *Client) Database() *mongo.Database {
	return c.client.Database(c.database)
}

// Collection returns a collection from the configured database
func (c *Client) Collection(name string) *mongo.Collection {
	return c.Database().Collection(name)
}

// Records returns the record store of a collection
func (c *Client) Records(name string) *Records {
	return &Records{
		coll:    c.Collection(name),
		timeout: c.timeout,
		logger:  c.logger.With(zap.String("collection", name)),
	}
}
