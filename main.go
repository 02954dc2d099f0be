package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"go.mau.fi/vcardbook/config"
	"go.mau.fi/vcardbook/database"
	"go.mau.fi/vcardbook/pkg/avatarstore"
)

// Information to find out exactly which commit vcardbook was built from.
// These are filled at build time with the -X linker flag.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

// book is initialized by the root command before any subcommand runs.
var book *ContactBook

func initLogger(cfg *config.Config) (*zerolog.Logger, error) {
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		files := strings.Split(file, "/")
		file = files[len(files)-1]
		name := runtime.FuncForPC(pc).Name()
		fns := strings.Split(name, ".")
		name = fns[len(fns)-1]
		return fmt.Sprintf("%s:%d:%s()", file, line, name)
	}
	return cfg.Logging.Compile()
}

// openBook loads the config and opens the database and avatar store.
func openBook(ctx context.Context) (*ContactBook, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	db, err := database.Open(cfg.Database.Type, cfg.Database.URI, log.With().Str("component", "database").Logger())
	if err != nil {
		return nil, err
	}
	if err = db.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade database: %w", err)
	}
	avatars, err := avatarstore.New(cfg.Avatars.Path, cfg.Avatars.ProviderID, cfg.Avatars.Scheme)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("path", avatars.Dir()).
		Str("scheme", avatars.Scheme()).
		Str("provider_id", avatars.ProviderID()).
		Msg("Opened avatar store")
	return NewContactBook(cfg, db, avatars, *log), nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "vcardbook",
		Short:         "A vCard contact book with SIP addresses",
		Version:       fmt.Sprintf("%s (commit %s, built at %s)", Tag, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			book, err = openBook(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if book != nil {
				_ = book.DB.RawDB.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	root.AddCommand(
		cmdServe,
		cmdCreate,
		cmdImport,
		cmdExport,
		cmdShow,
		cmdList,
		cmdEdit,
		cmdDelete,
	)
	return root
}

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the metrics endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), book)
	},
}

func serve(ctx context.Context, book *ContactBook) error {
	cfg := book.Config
	if cfg.Metrics.Enabled {
		go book.Metrics.Start()
		defer book.Metrics.Stop()
	}
	var server *http.Server
	if cfg.API.Enabled {
		server = &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           NewAPI(book, cfg.API.SharedSecret),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			book.Log.Info().Str("address", server.Addr).Msg("Starting API listener")
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				book.Log.Err(err).Msg("Error in API listener")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	book.Log.Info().Msg("Shutting down")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
	return nil
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
