package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/pmengine/internal/core/api"
	"github.com/solatis/pmengine/internal/core/config"
	"github.com/solatis/pmengine/internal/core/db"
	"github.com/solatis/pmengine/internal/core/journal"
	"github.com/solatis/pmengine/internal/core/manager"
	"github.com/solatis/pmengine/internal/core/plugins"
	"github.com/solatis/pmengine/internal/core/server"
	"github.com/solatis/pmengine/internal/types"
)

const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policy manager (REST API and gRPC health)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().Int("http-port", 0, "REST API port (overrides server.http_port)")
	serveCmd.Flags().Int("grpc-port", 0, "gRPC health port (overrides server.grpc_port)")
	serveCmd.Flags().Bool("migrate", false, "apply pending journal migrations at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []manager.Option{manager.WithLogger(logger.With(zap.String("component", "manager")))}
	var history api.HistoryReader
	var persistedTypes []string

	if cfg.Database.URL != "" {
		conn, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer conn.Close()

		migrate, _ := cmd.Flags().GetBool("migrate")
		if err := checkSchema(ctx, conn, migrate, logger); err != nil {
			return err
		}

		j, err := journal.New(conn, logger)
		if err != nil {
			return fmt.Errorf("failed to create journal: %w", err)
		}
		if persistedTypes, err = j.Types(ctx); err != nil {
			return err
		}
		opts = append(opts, manager.WithRecorder(j))
		history = j
	} else {
		logger.Warn("no database configured, lifecycle journal disabled")
	}

	directory, err := plugins.NewDirectory(cfg.Plugins, logger)
	if err != nil {
		return fmt.Errorf("failed to build plugins: %w", err)
	}
	m, err := manager.New(directory, opts...)
	if err != nil {
		return err
	}

	for _, t := range append(cfg.Engine.PolicyTypes, persistedTypes...) {
		if resp := m.RegisterType(ctx, t); !resp.Success {
			return fmt.Errorf("failed to register policy type %q: %v", t, resp.Messages)
		}
	}
	logger.Info("policy types registered", zap.Strings("types", m.Types()))

	if cfg.Engine.BootstrapFile != "" {
		if err := bootstrap(ctx, m, cfg.Engine.BootstrapFile, logger); err != nil {
			return err
		}
	}

	service, err := api.NewService(m, history, cfg.Server.MaxBodyBytes, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	httpServer, err := server.NewHTTPServer(cfg.Server, service, logger)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)), logger)
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	logger.Info("starting pmengine",
		zap.String("version", Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.Start(gctx) })
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		var sg errgroup.Group
		sg.Go(func() error { return httpServer.Shutdown(shutdownCtx) })
		sg.Go(func() error { return grpcServer.Shutdown(shutdownCtx) })
		return sg.Wait()
	})

	httpServer.SetServing()
	grpcServer.SetServing()

	if err := g.Wait(); err != nil {
		logger.Error("pmengine stopped with error", zap.Error(err))
		return err
	}
	logger.Info("pmengine stopped")
	return nil
}

func applyServeFlags(cmd *cobra.Command, cfg *config.EngineConfig) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("http-port") {
		cfg.Server.HTTPPort, _ = cmd.Flags().GetInt("http-port")
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Server.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}
}

// checkSchema applies pending migrations when migrate is set and refuses
// to start on an outdated schema otherwise.
func checkSchema(ctx context.Context, conn *sqlx.DB, migrate bool, logger *zap.Logger) error {
	if migrate {
		applied, err := db.MigrateUp(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to migrate journal database: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("journal migrations applied", zap.Strings("migrations", applied))
		}
		return nil
	}

	pending, err := db.Pending(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	if len(pending) > 0 {
		return fmt.Errorf("migrations %v not applied - run 'pmengine migrate up' first", pending)
	}
	return nil
}

// bootstrap pushes the rule set in path once at startup. Rejected rules are
// logged and do not stop the engine.
func bootstrap(ctx context.Context, m *manager.Manager, path string, logger *zap.Logger) error {
	rs, err := types.LoadRuleSetFile(path)
	if err != nil {
		return fmt.Errorf("failed to load bootstrap rule set: %w", err)
	}
	result := m.Push(ctx, rs)
	for _, o := range result.Outcomes {
		if !o.Success() {
			logger.Warn("bootstrap policy not enforced",
				zap.Int("index", o.Index), zap.Int("id", o.ID), zap.Int("code", int(o.Code)), zap.Strings("messages", o.Messages))
		}
	}
	logger.Info("bootstrap rule set pushed",
		zap.String("file", path), zap.Int("rules", len(rs.Policies)), zap.Ints("ids", result.IDs))
	return nil
}
