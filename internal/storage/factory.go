package storage

import (
	"fmt"

	"github.com/versfs/versfs-go/internal/storage/local"
	"github.com/versfs/versfs-go/internal/storage/memory"
	"github.com/versfs/versfs-go/internal/storage/mongodb"
	"github.com/versfs/versfs-go/internal/storage/postgres"
	"github.com/versfs/versfs-go/internal/storage/types"
)

// BackendType represents the type of storage backend
type BackendType string

const (
	BackendTypeLocal    BackendType = "local"
	BackendTypeMemory   BackendType = "memory"
	BackendTypePostgres BackendType = "postgres"
	BackendTypeMongoDB  BackendType = "mongodb"
	BackendTypeS3       BackendType = "s3"
)

// Config holds configuration for creating a backend
type Config struct {
	Type BackendType

	// Local config
	Root string // Backing directory, absolute

	// Postgres config
	PostgresConnStr string
	PostgresTable   string
	PostgresBucket  string

	// MongoDB config
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoBucket     string

	// S3 config (pre-created backend, carries its own client and bucket)
	S3Backend types.Backend
}

// NewBackend creates a new storage backend based on the config
func NewBackend(config Config) (types.Backend, error) {
	switch config.Type {
	case BackendTypeLocal:
		if config.Root == "" {
			return nil, fmt.Errorf("storage root is required for local backend")
		}
		return local.NewLocalBackend(config.Root)

	case BackendTypeMemory:
		return memory.NewMemoryBackend(), nil

	case BackendTypePostgres:
		if config.PostgresConnStr == "" {
			return nil, fmt.Errorf("PostgreSQL connection string is required")
		}
		table := config.PostgresTable
		if table == "" {
			table = "files"
		}
		bucket := config.PostgresBucket
		if bucket == "" {
			bucket = "default"
		}
		return postgres.NewPostgresBackend(config.PostgresConnStr, table, bucket)

	case BackendTypeMongoDB:
		if config.MongoURI == "" {
			return nil, fmt.Errorf("MongoDB URI is required")
		}
		database := config.MongoDatabase
		if database == "" {
			database = "versfs"
		}
		collection := config.MongoCollection
		if collection == "" {
			collection = "files"
		}
		bucket := config.MongoBucket
		if bucket == "" {
			bucket = "default"
		}
		return mongodb.NewMongoBackend(config.MongoURI, database, collection, bucket)

	case BackendTypeS3:
		if config.S3Backend == nil {
			return nil, fmt.Errorf("S3 backend is required for S3 backend type")
		}
		return config.S3Backend, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", config.Type)
	}
}
