package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/config"
	"github.com/alfredjeanlab/ctxreg/internal/events"
	"github.com/alfredjeanlab/ctxreg/internal/idgen"
	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/registry"
	"github.com/alfredjeanlab/ctxreg/internal/server"
	"github.com/alfredjeanlab/ctxreg/internal/store"
	"github.com/alfredjeanlab/ctxreg/internal/store/memory"
	"github.com/alfredjeanlab/ctxreg/internal/store/postgres"
	regsync "github.com/alfredjeanlab/ctxreg/internal/sync"
	"github.com/alfredjeanlab/ctxreg/internal/usage"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the registry gRPC and HTTP servers",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, codes, err := openStore(cfg, logger)
		if err != nil {
			return err
		}

		refs, closeRefs, err := openUsageIndex(cfg, st)
		if err != nil {
			st.Close()
			return err
		}

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				closeRefs()
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = events.NewLogPublisher(logger)
			logger.Info("events disabled (CTXREG_NATS_URL not set)")
		}

		regServer := server.NewRegistryServer(logger)
		fanout := events.Multi(publisher, regServer.SSEPublisher())
		for _, kind := range []model.Kind{model.KindEnvironment, model.KindCluster} {
			svc, err := registry.New(kind, st, codes,
				registry.WithUsageIndex(refs),
				registry.WithPublisher(fanout),
				registry.WithLogger(logger),
				registry.WithStoreTimeout(cfg.StoreTimeout),
			)
			if err != nil {
				publisher.Close()
				closeRefs()
				st.Close()
				return err
			}
			regServer.Register(svc)
		}
		grpcServer := server.NewGRPCServer(regServer, cfg.AuthToken)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			publisher.Close()
			closeRefs()
			st.Close()
			return err
		}

		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: regServer.NewHTTPHandler(cfg.AuthToken),
		}

		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startSync(cfg, st, logger)

		logger.Info("registry server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"store", cfg.Store,
			"code_scheme", cfg.CodeScheme,
			"usage", cfg.Usage,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		closeRefs()
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore returns the record store and the code generator it pairs with.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, idgen.Generator, error) {
	var (
		st store.Store
		db *sql.DB
	)
	switch cfg.Store {
	case config.StoreMemory:
		st = memory.New()
		logger.Warn("using in-memory store; records are lost on exit")
	default:
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st, db = pg, pg.DB()
	}

	if cfg.CodeScheme == config.CodeSchemeSequence {
		return st, postgres.NewSequenceGenerator(db), nil
	}
	node := cfg.NodeID
	if node < 0 {
		node = idgen.NodeIDFromHost()
	}
	gen, err := idgen.NewSnowflake(node)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("CTXREG_NODE_ID: %w", err)
	}
	logger.Info("snowflake codes", "node", node)
	return st, gen, nil
}

// openUsageIndex returns the index consulted before deletes. With no SQL
// source every record is unreferenced.
func openUsageIndex(cfg *config.Config, st store.Store) (usage.Index, func(), error) {
	if cfg.Usage != config.UsageSQL {
		return usage.NewStatic(), func() {}, nil
	}

	tables := map[model.Kind]usage.Table{
		model.KindEnvironment: {Name: cfg.UsageEnvTable, CodeColumn: cfg.UsageEnvColumn, NameColumn: "name"},
		model.KindCluster:     {Name: cfg.UsageClusterTable, CodeColumn: cfg.UsageClusterColumn, NameColumn: "name"},
	}

	if pg, ok := st.(*postgres.PostgresStore); ok && cfg.UsageDatabaseURL == cfg.DatabaseURL {
		idx, err := usage.NewSQLIndex(pg.DB(), tables)
		return idx, func() {}, err
	}

	db, err := sql.Open("postgres", cfg.UsageDatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening usage database: %w", err)
	}
	idx, err := usage.NewSQLIndex(db, tables)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return idx, func() { db.Close() }, nil
}

// startSync starts the snapshot scheduler when an interval and at least one
// destination are configured.
func startSync(cfg *config.Config, st store.Store, logger *slog.Logger) *regsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []regsync.Destination

	if cfg.SyncS3Bucket != "" {
		s3Dest, err := regsync.NewS3Destination(
			context.Background(),
			cfg.SyncS3Bucket,
			cfg.SyncS3Key,
			cfg.SyncS3Region,
			cfg.SyncS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}

	if cfg.SyncGitRepo != "" {
		dests = append(dests, regsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}

	if len(dests) == 0 {
		return nil
	}
	scheduler := regsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}
