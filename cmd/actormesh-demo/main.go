// Command actormesh-demo is a minimal client/server pair exercising
// spec.md §8 scenario 1 (echo call): serve hosts an echo actor, call dials
// it and prints the reply.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh"
)

var (
	version = "dev"
	commit  = "none"
)

type config struct {
	mode     string
	host     string
	port     int
	path     string
	nodeID   string
	logLevel string
	target   string // server's node id, call mode only
	message  string // call mode only
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "actormesh-demo",
		Short: "actormesh-demo — a minimal distributed-actor echo server and client",
	}

	root.PersistentFlags().StringVar(&cfg.host, "host", envOrDefault("ACTORMESH_HOST", "localhost"), "Host to bind (serve) or dial (call)")
	root.PersistentFlags().IntVar(&cfg.port, "port", envOrDefaultInt("ACTORMESH_PORT", 8700), "Port to bind (serve) or dial (call)")
	root.PersistentFlags().StringVar(&cfg.path, "path", envOrDefault("ACTORMESH_PATH", "/actormesh/v1"), "WebSocket upgrade path")
	root.PersistentFlags().StringVar(&cfg.nodeID, "node-id", envOrDefault("ACTORMESH_NODE_ID", ""), "This process's NodeID (random if empty)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("ACTORMESH_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(cfg), newCallCmd(cfg), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("actormesh-demo %s (commit: %s)\n", version, commit)
		},
	}
}

func newServeCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host an echo actor and accept WebSocket channels from clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newCallCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Dial a server and call its echo actor once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.target, "server-node-id", "", "NodeID of the server to call (required)")
	cmd.Flags().StringVar(&cfg.message, "message", "hello from actormesh-demo", "Message to echo")
	return cmd
}

func runServe(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	nodeID, err := resolveNodeID(cfg.nodeID)
	if err != nil {
		return err
	}

	logger.Info("starting actormesh-demo server",
		zap.String("node_id", nodeID.String()),
		zap.String("host", cfg.host),
		zap.Int("port", cfg.port),
	)

	sys, err := actormesh.NewSystem(actormesh.Config{
		Mode:   actormesh.ModeServer,
		NodeID: nodeID,
		Host:   cfg.host,
		Port:   cfg.port,
		Path:   cfg.path,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start system: %w", err)
	}

	actormesh.MakeActorWithID(context.Background(), sys, echoActorID(nodeID), newEchoActor)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("shutting down actormesh-demo server")
	sys.ShutdownGracefully()
	return nil
}

func runCall(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.target == "" {
		return fmt.Errorf("--server-node-id is required")
	}
	serverNode, err := actormesh.ParseNodeID(cfg.target)
	if err != nil {
		return fmt.Errorf("invalid --server-node-id: %w", err)
	}

	nodeID, err := resolveNodeID(cfg.nodeID)
	if err != nil {
		return err
	}

	sys, err := actormesh.NewSystem(actormesh.Config{
		Mode:   actormesh.ModeClient,
		NodeID: nodeID,
		Host:   cfg.host,
		Port:   cfg.port,
		Path:   cfg.path,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start system: %w", err)
	}
	defer sys.ShutdownGracefully()

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reply, err := actormesh.RemoteCall[string](callCtx, sys, echoActorID(serverNode), echoTarget, nil, cfg.message)
	if err != nil {
		return fmt.Errorf("echo call failed: %w", err)
	}

	fmt.Println(reply)
	return nil
}

func resolveNodeID(s string) (actormesh.NodeID, error) {
	if s == "" {
		return actormesh.NewNodeID(), nil
	}
	return actormesh.ParseNodeID(s)
}

func buildLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config
	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zcfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
