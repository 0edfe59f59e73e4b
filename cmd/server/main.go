package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vuxtra/mcp-jive/internal/analytics"
	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/execution"
	"github.com/vuxtra/mcp-jive/internal/protocol"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/syncdata"
	"github.com/vuxtra/mcp-jive/internal/tools"
	"github.com/vuxtra/mcp-jive/internal/transport"
	"github.com/vuxtra/mcp-jive/pkg/logger"
)

// Version is stamped by the release build.
var Version = "0.9.0"

// Server bundles the wired components for one process.
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	store   *storage.Store
	handler *protocol.Handler
	http    *transport.HTTPServer
	stdio   *transport.StdioServer
}

// NewServer loads configuration and wires every component. In stdio mode
// logging must stay off stdout, so the log writer is chosen by transport.
func NewServer(stdioMode bool) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logWriter := os.Stdout
	if stdioMode {
		logWriter = os.Stderr
	}
	log := logger.NewLoggerTo(logWriter, cfg.LogLevel, cfg.LogFormat)

	store, err := storage.NewStore(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	embedder := embedding.NewHashEmbedder(cfg.Embedding.Dimension)
	engine := search.NewEngine(embedder)

	workItems := repository.NewWorkItemRepository(store, embedder, engine, log, cfg.Hierarchy.Strict, cfg.Limits.DependencyHops)
	memory := repository.NewMemoryRepository(store, embedder, engine, log)
	progress := analytics.NewEngine(store, workItems, log)
	executions := execution.NewManager(store, workItems, log)
	sync := syncdata.NewService(store, cfg.Storage.Path, log)

	dispatcher, err := tools.NewDispatcher(log,
		tools.NewManageWorkItemTool(workItems),
		tools.NewGetWorkItemTool(workItems),
		tools.NewSearchContentTool(workItems, engine),
		tools.NewHierarchyTool(workItems),
		tools.NewExecuteWorkItemTool(executions),
		tools.NewTrackProgressTool(progress),
		tools.NewSyncDataTool(sync),
		tools.NewMemoryTool(memory),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool dispatcher: %w", err)
	}

	handler := protocol.NewHandler(dispatcher, log, Version, cfg.Namespace.Default, cfg.Limits.RequestTimeout)

	srv := &Server{config: cfg, logger: log, store: store, handler: handler}
	if stdioMode {
		srv.stdio = transport.NewStdioServer(handler, log)
	} else {
		hub := transport.NewWSHub(cfg.WebSocket, cfg.Limits.MaxWSConnections, handler, log)
		srv.http = transport.NewHTTPServer(cfg, handler, hub, store, log, Version)
	}
	return srv, nil
}

// Run serves until a signal, client shutdown or stdin EOF.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.handler.OnShutdown(cancel)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	errCh := make(chan error, 1)
	if s.stdio != nil {
		go func() { errCh <- s.stdio.Run(ctx) }()
	} else {
		go func() { errCh <- s.http.Start() }()
	}

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.http != nil {
		if err := s.http.Stop(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to stop HTTP transport cleanly")
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close store")
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

func main() {
	var stdioMode bool

	root := &cobra.Command{
		Use:   "mcp-jive",
		Short: "MCP server exposing project-management tools to AI agents",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := NewServer(stdioMode)
			if err != nil {
				return err
			}
			return server.Run()
		},
	}
	serve.Flags().BoolVar(&stdioMode, "stdio", false, "speak JSON-RPC on stdin/stdout instead of HTTP/WebSocket")
	serve.Flags().Int("port", 0, "HTTP port override")
	viper.BindPFlag("server.port", serve.Flags().Lookup("port"))

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	root.AddCommand(serve, version)
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("Server exited with error")
	}
}
