package database

import (
	"context"
	"fmt"

	driver "github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"
	log "github.com/sirupsen/logrus"
)

// Config holds the ArangoDB connection settings for optional snapshot
// persistence.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ArangoClient wraps the ArangoDB client and database connection.
type ArangoClient struct {
	client   driver.Client
	db       driver.Database
	config   *Config
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewArangoClient connects to ArangoDB and ensures the database exists.
func NewArangoClient(cfg *Config) (*ArangoClient, error) {
	ctx, cancel := context.WithCancel(context.Background())

	connConfig := http.ConnectionConfig{
		Endpoints: []string{fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)},
	}

	conn, err := http.NewConnection(connConfig)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.Username, cfg.Password),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	db, err := ensureDatabase(ctx, client, cfg.Database)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to ensure database: %w", err)
	}

	log.WithFields(log.Fields{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("Connected to ArangoDB")

	return &ArangoClient{
		client:   client,
		db:       db,
		config:   cfg,
		ctx:      ctx,
		cancelFn: cancel,
	}, nil
}

func ensureDatabase(ctx context.Context, client driver.Client, dbName string) (driver.Database, error) {
	exists, err := client.DatabaseExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if exists {
		return client.Database(ctx, dbName)
	}
	return client.CreateDatabase(ctx, dbName, nil)
}

// EnsureCollection creates the named collection if it does not exist.
func (c *ArangoClient) EnsureCollection(ctx context.Context, name string) (driver.Collection, error) {
	exists, err := c.db.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", name, err)
	}

	if exists {
		return c.db.Collection(ctx, name)
	}
	return c.db.CreateCollection(ctx, name, nil)
}

// Database returns the database handle.
func (c *ArangoClient) Database() driver.Database {
	return c.db
}

// Context returns the client's lifetime context.
func (c *ArangoClient) Context() context.Context {
	return c.ctx
}

// Close releases the connection context.
func (c *ArangoClient) Close() {
	c.cancelFn()
}
