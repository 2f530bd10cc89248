package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/versfs/versfs-go/internal/credentials"
	"github.com/versfs/versfs-go/internal/fuse"
	"github.com/versfs/versfs-go/internal/storage"
	"github.com/versfs/versfs-go/internal/storage/s3"
)

func usage() {
	fmt.Fprintf(os.Stderr, "USAGE: %s [flags] <storage directory> <mount point>\n", os.Args[0])
	flag.PrintDefaults()
}

// validateDirs checks the two mandatory positional arguments. Both must be
// absolute paths; anything else is a fatal misconfiguration.
func validateDirs(storageDir, mountDir string) error {
	if storageDir == "" || mountDir == "" {
		return fmt.Errorf("storage directory and mount point are required")
	}
	if !filepath.IsAbs(storageDir) || !filepath.IsAbs(mountDir) {
		return fmt.Errorf("directories must be absolute paths")
	}
	return nil
}

func main() {
	var (
		backendType  = flag.String("backend", "local", "Storage backend: local, memory, postgres, mongodb, s3")
		fsname       = flag.String("fsname", "versfs", "Filesystem name shown in mount tables")
		postgresConn = flag.String("postgres_conn", "", "PostgreSQL connection string")
		postgresTab  = flag.String("postgres_table", "", "PostgreSQL table name")
		mongoURI     = flag.String("mongo_uri", "", "MongoDB URI")
		mongoDB      = flag.String("mongo_db", "", "MongoDB database name")
		mongoColl    = flag.String("mongo_collection", "", "MongoDB collection name")
		bucket       = flag.String("bucket", "", "Bucket namespace (S3 bucket name, or row/document namespace for database backends)")
		region       = flag.String("region", "us-east-1", "AWS region")
		endpoint     = flag.String("endpoint", "", "S3 endpoint URL (for LocalStack or other S3-compatible services)")
		passwdFile   = flag.String("passwd_file", "", "Path to passwd file with S3 credentials")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(1)
	}
	storageDir := flag.Arg(0)
	mountDir := flag.Arg(1)

	if err := validateDirs(storageDir, mountDir); err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	config := storage.Config{
		Type:            storage.BackendType(*backendType),
		Root:            storageDir,
		PostgresConnStr: *postgresConn,
		PostgresTable:   *postgresTab,
		PostgresBucket:  *bucket,
		MongoURI:        *mongoURI,
		MongoDatabase:   *mongoDB,
		MongoCollection: *mongoColl,
		MongoBucket:     *bucket,
	}

	if config.Type == storage.BackendTypeS3 {
		if *bucket == "" {
			log.Fatal("bucket is required for the s3 backend")
		}

		creds := credentials.NewCredentials()
		if *passwdFile != "" {
			if err := creds.LoadFromPasswdFile(*passwdFile); err != nil {
				log.Fatalf("Failed to load credentials from file: %v", err)
			}
		} else {
			if err := creds.LoadFromEnvironment(); err != nil {
				log.Fatalf("Failed to load credentials from environment: %v", err)
			}
		}
		if !creds.IsValid() {
			log.Fatal("Invalid credentials")
		}

		backend, err := s3.NewS3Backend(*bucket, *region, *endpoint, creds)
		if err != nil {
			log.Fatalf("Failed to create S3 backend: %v", err)
		}
		config.S3Backend = backend
	}

	backend, err := storage.NewBackend(config)
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	log.Printf("Mounting %s at %s (backend: %s)", storageDir, mountDir, *backendType)
	filesystem := fuse.NewFilesystem(backend)
	if err := fuse.Mount(mountDir, filesystem, fuse.MountOptions{FSName: *fsname}); err != nil {
		log.Fatalf("Failed to mount filesystem: %v", err)
	}
}
