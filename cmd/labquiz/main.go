package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/pavelanni/labquiz/internal/engine"
	"github.com/pavelanni/labquiz/internal/handler"
	appI18n "github.com/pavelanni/labquiz/internal/i18n"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "labquiz",
		Short: "Lab quiz content repository and test engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, initCmd(), structureCmd(), generateCmd(), resultsCmd(),
		backupCmd(), restoreCmd(), draftCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `labquiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addDataFlags registers the flags every command needs to open the engine.
func addDataFlags(f *pflag.FlagSet) {
	f.StringP("data-dir", "D", "data", "Data root with course folders and rosters")
	f.String("results", "results.json", "Result log path")
	f.String("results-backend", "json", "Result log backend (json, sqlite)")
	f.StringP("lang", "l", "ru", "Language for display names and name ordering (ru, en)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	addDataFlags(f)
	f.StringP("addr", "a", "127.0.0.1:8080", "HTTP listen address")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Origins allowed to call the API")
	f.String("admin-password", "", "Password for export and import (or set LABQUIZ_ADMIN_PASSWORD); empty leaves them open")
	f.Duration("test-ttl", 3*time.Hour, "How long a generated test waits for submission (0 = forever)")
	f.Uint64("seed", 0, "Seed for question selection (0 = random)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LABQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("labquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/labquiz")
	v.AddConfigPath("/etc/labquiz")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openEngine initializes i18n and opens the engine from the bound configuration.
func openEngine(v *viper.Viper) (*engine.Engine, error) {
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		slog.Warn("unknown language, using default name ordering", "lang", lang)
		tag = language.Und
	}
	eng, err := engine.New(engine.Config{
		DataDir:        v.GetString("data-dir"),
		ResultsPath:    v.GetString("results"),
		ResultsBackend: v.GetString("results-backend"),
		TestTTL:        v.GetDuration("test-ttl"),
		Seed:           v.GetUint64("seed"),
		Collation:      tag,
	})
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return eng, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.EnsureLayout(ctx); err != nil {
		return fmt.Errorf("prepare data root: %w", err)
	}

	var opts []handler.Option
	if pw := v.GetString("admin-password"); pw != "" {
		hash, err := handler.HashPassword(pw)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		opts = append(opts, handler.WithAdminHash(hash))
	} else {
		slog.Warn("no admin password set, export and import are open to local callers")
	}

	if ttl := v.GetDuration("test-ttl"); ttl > 0 {
		go eng.RunCleanup(ctx, min(ttl, time.Minute))
	}

	lang := v.GetString("lang")
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept-Language", "X-Admin-Password"},
		ExposedHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(appI18n.Middleware(lang))
	handler.New(eng, opts...).Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("starting server",
		"addr", addr,
		"data_dir", eng.DataRootPath(),
		"results", v.GetString("results"),
		"results_backend", v.GetString("results-backend"),
		"lang", lang,
		"test_ttl", v.GetDuration("test-ttl"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
