// Package config loads the server configuration from CTXREG_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Code schemes.
const (
	CodeSchemeSnowflake = "snowflake"
	CodeSchemeSequence  = "sequence"
)

// Usage index sources.
const (
	UsageSQL  = "sql"
	UsageNone = "none"
)

type Config struct {
	Store        string        // CTXREG_STORE (default "postgres"; "memory" for a single throwaway instance)
	DatabaseURL  string        // CTXREG_DATABASE_URL (required for the postgres store)
	GRPCAddr     string        // CTXREG_GRPC_ADDR (default ":9090")
	HTTPAddr     string        // CTXREG_HTTP_ADDR (default ":8080")
	NATSURL      string        // CTXREG_NATS_URL (optional, empty = no events)
	AuthToken    string        // CTXREG_AUTH_TOKEN (optional, empty = auth disabled)
	StoreTimeout time.Duration // CTXREG_STORE_TIMEOUT (default 5s)

	// Code generation
	CodeScheme string // CTXREG_CODE_SCHEME (default "sequence" with postgres, "snowflake" with memory)
	NodeID     int64  // CTXREG_NODE_ID (default -1 = derive from hostname; required for snowflake on postgres)

	// Usage index
	Usage              string // CTXREG_USAGE ("sql" or "none"; default "sql" with postgres)
	UsageDatabaseURL   string // CTXREG_USAGE_DATABASE_URL (default: the registry database)
	UsageEnvTable      string // CTXREG_USAGE_ENV_TABLE (default "task_definition")
	UsageEnvColumn     string // CTXREG_USAGE_ENV_COLUMN (default "environment_code")
	UsageClusterTable  string // CTXREG_USAGE_CLUSTER_TABLE (default "workflow_definition")
	UsageClusterColumn string // CTXREG_USAGE_CLUSTER_COLUMN (default "cluster_code")

	// Sync settings
	SyncInterval   time.Duration // CTXREG_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // CTXREG_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // CTXREG_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // CTXREG_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // CTXREG_SYNC_S3_KEY (default "ctxreg/backup.jsonl")
	SyncGitRepo    string        // CTXREG_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // CTXREG_SYNC_GIT_FILE (default "ctxreg.jsonl")
	SyncGitBranch  string        // CTXREG_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		Store:              envOrDefault("CTXREG_STORE", StorePostgres),
		DatabaseURL:        os.Getenv("CTXREG_DATABASE_URL"),
		GRPCAddr:           envOrDefault("CTXREG_GRPC_ADDR", ":9090"),
		HTTPAddr:           envOrDefault("CTXREG_HTTP_ADDR", ":8080"),
		NATSURL:            os.Getenv("CTXREG_NATS_URL"),
		AuthToken:          os.Getenv("CTXREG_AUTH_TOKEN"),
		UsageDatabaseURL:   os.Getenv("CTXREG_USAGE_DATABASE_URL"),
		UsageEnvTable:      envOrDefault("CTXREG_USAGE_ENV_TABLE", "task_definition"),
		UsageEnvColumn:     envOrDefault("CTXREG_USAGE_ENV_COLUMN", "environment_code"),
		UsageClusterTable:  envOrDefault("CTXREG_USAGE_CLUSTER_TABLE", "workflow_definition"),
		UsageClusterColumn: envOrDefault("CTXREG_USAGE_CLUSTER_COLUMN", "cluster_code"),
		SyncS3Bucket:       os.Getenv("CTXREG_SYNC_S3_BUCKET"),
		SyncS3Endpoint:     os.Getenv("CTXREG_SYNC_S3_ENDPOINT"),
		SyncS3Region:       envOrDefault("CTXREG_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:          envOrDefault("CTXREG_SYNC_S3_KEY", "ctxreg/backup.jsonl"),
		SyncGitRepo:        os.Getenv("CTXREG_SYNC_GIT_REPO"),
		SyncGitFile:        envOrDefault("CTXREG_SYNC_GIT_FILE", "ctxreg.jsonl"),
		SyncGitBranch:      envOrDefault("CTXREG_SYNC_GIT_BRANCH", "main"),
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("CTXREG_DATABASE_URL is required")
		}
		c.Usage = envOrDefault("CTXREG_USAGE", UsageSQL)
		c.CodeScheme = envOrDefault("CTXREG_CODE_SCHEME", CodeSchemeSequence)
	case StoreMemory:
		c.Usage = envOrDefault("CTXREG_USAGE", UsageNone)
		c.CodeScheme = envOrDefault("CTXREG_CODE_SCHEME", CodeSchemeSnowflake)
	default:
		return nil, fmt.Errorf("CTXREG_STORE: unknown store %q", c.Store)
	}

	c.NodeID = -1
	if s := os.Getenv("CTXREG_NODE_ID"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("CTXREG_NODE_ID: %w", err)
		}
		c.NodeID = n
	}

	switch c.CodeScheme {
	case CodeSchemeSnowflake:
		// Hostname-derived node ids can collide between instances that
		// share the database.
		if c.Store == StorePostgres && c.NodeID < 0 {
			return nil, fmt.Errorf("CTXREG_CODE_SCHEME=snowflake with the postgres store requires CTXREG_NODE_ID")
		}
	case CodeSchemeSequence:
		if c.Store != StorePostgres {
			return nil, fmt.Errorf("CTXREG_CODE_SCHEME=sequence requires the postgres store")
		}
	default:
		return nil, fmt.Errorf("CTXREG_CODE_SCHEME: unknown scheme %q", c.CodeScheme)
	}

	switch c.Usage {
	case UsageNone:
	case UsageSQL:
		if c.UsageDatabaseURL == "" {
			c.UsageDatabaseURL = c.DatabaseURL
		}
		if c.UsageDatabaseURL == "" {
			return nil, fmt.Errorf("CTXREG_USAGE=sql requires CTXREG_USAGE_DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("CTXREG_USAGE: unknown source %q", c.Usage)
	}

	var err error
	if c.StoreTimeout, err = durationEnv("CTXREG_STORE_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = durationEnv("CTXREG_SYNC_INTERVAL", "3m"); err != nil {
		return nil, err
	}

	return c, nil
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
