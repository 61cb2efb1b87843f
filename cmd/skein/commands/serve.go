package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/skeinworks/skein/cmd/skein/internal/config"
	"github.com/skeinworks/skein/pkg/archive"
	"github.com/skeinworks/skein/pkg/builder"
	"github.com/skeinworks/skein/pkg/chat"
	"github.com/skeinworks/skein/pkg/ledger"
	"github.com/skeinworks/skein/pkg/llm"
	"github.com/skeinworks/skein/pkg/llm/loader"
)

var (
	flagConfig string
	flagListen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API server",
	Long: `Run the chat API server.

Model backends are loaded from the configured model directory, the
usage ledger and transcript archive are opened, and the chat API is
served until SIGINT/SIGTERM.

Example:
  skein serve --config skein.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&flagConfig, "config", "c", "skein.yaml", "server config file")
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}

	mux := llm.NewMux()
	loader.Verbose = IsVerbose()
	names, err := loader.LoadFromDir(mux, cfg.ModelDir)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("no models registered from %s (missing API keys?)", cfg.ModelDir)
	}
	slog.Info("skein: models registered", "count", len(names), "models", mux.Names())

	for _, name := range []string{cfg.DefaultModel, cfg.SummaryModel} {
		if name != "" && !mux.Resolves(name) {
			return fmt.Errorf("configured model %q is not registered", name)
		}
	}

	led, err := ledger.Open(ledger.Options{Dir: cfg.LedgerDir, InMemory: cfg.LedgerDir == ""})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()
	if cfg.LedgerDir == "" {
		slog.Warn("skein: ledger_dir not set, usage records will not survive restarts")
	}

	store, err := newArchiveStore(cfg.Archive)
	if err != nil {
		return err
	}

	builderClient, err := newBuilderClient(cfg.Builder)
	if err != nil {
		return err
	}

	srv := &chat.Server{
		Generators:   mux,
		DefaultModel: cfg.DefaultModel,
		SummaryModel: cfg.SummaryModel,
		Builder:      builderClient,
		MaxSegments:  cfg.MaxSegments,
		Ledger:       led,
		Archive:      store,
	}

	httpServer := &http.Server{Addr: cfg.Listen, Handler: srv.Handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("skein: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("skein: listening", "addr", cfg.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("skein: server stopped")
	return nil
}

// newArchiveStore builds the transcript store the config selects,
// or nil when archiving is disabled.
func newArchiveStore(cfg *config.Archive) (archive.Store, error) {
	switch {
	case cfg == nil:
		return nil, nil
	case cfg.Dir != "":
		store, err := archive.NewDirStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("open archive dir: %w", err)
		}
		return store, nil
	case cfg.S3 != nil:
		return newS3Store(cfg.S3)
	default:
		return nil, nil
	}
}

func newS3Store(cfg *config.S3) (*archive.S3Store, error) {
	access, secret := cfg.AccessKey, cfg.SecretKey
	if access == "" {
		access = os.Getenv("AWS_ACCESS_KEY_ID")
		secret = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if access == "" || secret == "" {
		return nil, errors.New("archive.s3: credentials required (access_key/secret_key or AWS env vars)")
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     access,
				SecretAccessKey: secret,
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "skein config",
			}, nil
		}),
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		// MinIO and friends route by path, not virtual host.
		opts.UsePathStyle = true
	}
	return archive.NewS3Store(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
}

func newBuilderClient(cfg *config.Builder) (*builder.Client, error) {
	if cfg == nil {
		return builder.NewClient(), nil
	}
	var opts []builder.Option
	if d := cfg.Timeout.Duration(); d > 0 {
		opts = append(opts, builder.WithTimeout(d))
	}
	if cfg.APIKey != "" {
		opts = append(opts, builder.WithAPIKey(cfg.APIKey))
	}
	if cfg.ResultQuery != "" {
		q, err := builder.ParseQuery(cfg.ResultQuery)
		if err != nil {
			return nil, fmt.Errorf("builder.result_query: %w", err)
		}
		opts = append(opts, builder.WithResultQuery(q))
	}
	return builder.NewClient(opts...), nil
}
