package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	dbconnector "project-echo"
	"project-echo/internal/config"
	"project-echo/internal/connections"
	"project-echo/internal/logging"
)

type cliFlags struct {
	cfgFile string
	stdio   bool
}

func newFlagSet() (*pflag.FlagSet, *cliFlags) {
	var cf cliFlags
	flags := pflag.NewFlagSet("project-echo-rpc", pflag.ContinueOnError)
	flags.StringVar(&cf.cfgFile, "config", "", "config file (default: ./"+config.DefaultConfigFile+")")
	flags.BoolVar(&cf.stdio, "stdio", false, "serve newline delimited JSON-RPC on stdin/stdout instead of HTTP")
	flags.Int("rpc-port", 9000, "JSON-RPC port")
	flags.String("storage-path", "", "directory holding the connection registry")
	flags.String("encryption-key", "", "key used to decrypt stored connection strings")
	flags.Bool("read-only", false, "refuse write statements in db.raw_query")
	flags.Duration("query-timeout", 0, "per call timeout")
	flags.String("log-level", "", "debug|info|warn|error")
	flags.String("log-format", "", "json|text")
	return flags, &cf
}

func newRouter(s *rpcServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeRPC(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Result: map[string]string{"status": "ok"}})
	})
	r.Handle("/rpc", s)
	return r
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags, cf := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(cf.cfgFile, flags)
	if err != nil {
		return err
	}
	logOut := stdout
	if cf.stdio {
		logOut = stderr
	}
	logger, err := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	detector := dbconnector.NewDetector(cfg.DetectTimeout, logger)
	registry, err := connections.Open(connections.Options{
		Path:          cfg.RegistryPath(),
		StorageDir:    cfg.StoragePath,
		EncryptionKey: cfg.EncryptionKey,
		Detector:      detector,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	s := newRPCServer(registry, dbconnector.NewConnector, detector.DetectKind, logger, cfg.QueryTimeout,
		dbconnector.WithReadOnly(cfg.ReadOnly),
		dbconnector.WithPageLimits(dbconnector.PageLimits{Default: cfg.DefaultPageSize, Max: cfg.MaxPageSize}),
		dbconnector.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cf.stdio {
		return s.serveStdio(ctx, stdin, stdout)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.RPCPort),
		Handler:           newRouter(s),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mcp rpc server listening", slog.Int("port", cfg.RPCPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Watch {
		g.Go(func() error {
			return registry.Watch(gctx)
		})
	}
	return g.Wait()
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
