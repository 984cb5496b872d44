// Gmail analyzer pulls message metadata through the Gmail API and reports mailbox statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hal9000y/gmail-analyzer/internal/app"
	"github.com/hal9000y/gmail-analyzer/internal/auth"
	"github.com/hal9000y/gmail-analyzer/internal/cache"
	"github.com/hal9000y/gmail-analyzer/internal/config"
	"github.com/hal9000y/gmail-analyzer/internal/fetch"
	"github.com/hal9000y/gmail-analyzer/internal/gservice"
	"github.com/hal9000y/gmail-analyzer/internal/message"
	"github.com/hal9000y/gmail-analyzer/internal/tool"
)

const version = "0.0.1"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("gmail-analyzer failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gmail-analyzer",
		Short:         "Simple Gmail Analyzer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			logger, closeLogs, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLogs()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
	cmd.SetVersionTemplate("gmail analyzer v{{.Version}}\n")
	config.BindFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	store, err := cache.Open(cfg.CacheBackend, cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("cache.Open failed: %w", err)
	}

	if cfg.MCPStdio {
		return serveStdio(ctx, store, logger)
	}

	runner := &app.Runner{
		Store:  store,
		Fetch:  newFetchFunc(cfg, logger),
		Out:    os.Stdout,
		TTL:    cfg.CacheTTL,
		Logger: logger,
	}

	return runner.Run(ctx, app.Options{
		Query:        cfg.Query,
		Top:          cfg.Top,
		InactiveDays: cfg.Inactive,
		PullOnly:     cfg.PullData,
		Refresh:      cfg.RefreshData,
		AnalyzeOnly:  cfg.AnalyzeOnly,
		ExportCSV:    cfg.ExportCSV,
	})
}

func serveStdio(ctx context.Context, store cache.Store, logger *log.Logger) error {
	logger.Info("Starting stdio transport")

	srv := tool.NewServer(store, time.Now)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("srv.Run failed: %w", err)
	}

	logger.Info("Stdio transport stopped")
	return nil
}

// newFetchFunc authenticates only when the pipeline actually needs the Gmail API.
func newFetchFunc(cfg *config.Config, logger *log.Logger) app.FetchFunc {
	return func(ctx context.Context, query string) ([]message.Record, error) {
		tok, err := authorize(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fetch.ErrAuth, err)
		}

		defer func() {
			logger.Debug("Persisting token if exists")
			if err := tok.Persist(); err != nil {
				logger.Error("tok.Persist failed", "err", err)
			}
		}()

		logger.Info("Fetching messages", "query", query, "user", cfg.User)

		f := fetch.New(gservice.NewGmail(tok, cfg.User), fetch.Options{
			PageSize:       cfg.PageSize,
			MaxRetryRounds: cfg.MaxRetryRounds,
			Logger:         logger,
		})

		return f.Fetch(ctx, query)
	}
}

func authorize(ctx context.Context, cfg *config.Config, logger *log.Logger) (*auth.Token, error) {
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("net.Listen failed: %w", err)
	}

	redirectURL := fmt.Sprintf("http://%s/oauth", ln.Addr().String())
	if cfg.OAuthURL != "" {
		redirectURL = cfg.OAuthURL
	}

	oauthCfg, err := auth.NewConfig(auth.ClientOptions{
		CredentialsFile: cfg.Credentials,
		EnvFile:         cfg.EnvFile,
		RedirectURL:     redirectURL,
	})
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("auth.NewConfig failed: %w", err)
	}

	store, err := tokenStore(cfg)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	tok, err := auth.NewToken(oauthCfg, store)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("auth.NewToken failed: %w", err)
	}

	if _, err := tok.OAuthToken(); !errors.Is(err, auth.ErrTokenNotSet) {
		_ = ln.Close()
		return tok, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/oauth", auth.NewHTTPHandler(tok, logger))

	stopHTTP, errHTTPCh := serveHTTP(&http.Server{Handler: mux}, ln, logger)
	defer stopHTTP()

	openBrowser(redirectURL, logger)

	select {
	case <-tok.Ready():
		logger.Info("Authorization complete")
		return tok, nil
	case err := <-errHTTPCh:
		return nil, fmt.Errorf("oauth redirect server failed: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func tokenStore(cfg *config.Config) (auth.Store, error) {
	if !cfg.TokenKeyring {
		return auth.FileStore{Path: cfg.TokenFile}, nil
	}

	store, err := auth.OpenKeyring(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("auth.OpenKeyring failed: %w", err)
	}
	return store, nil
}

func serveHTTP(srv *http.Server, ln net.Listener, logger *log.Logger) (func(), <-chan error) {
	errHTTPCh := make(chan error, 1)
	go func() {
		defer close(errHTTPCh)

		logger.Debug("Starting http server", "addr", ln.Addr().String())

		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errHTTPCh <- fmt.Errorf("srv.Serve failed: %w", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("srv.Shutdown failed", "err", err)
		}

		<-errHTTPCh
		logger.Debug("HTTP server stopped")
	}, errHTTPCh
}

func setupLogger(cfg *config.Config) (*log.Logger, func(), error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	if cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	return logger, closeFn, nil
}

func openBrowser(url string, logger *log.Logger) {
	url = fmt.Sprintf("%s?redirect=1", url)
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}

	if err != nil {
		logger.Warn("Could not open browser automatically, please open the link in a browser", "err", err, "url", url)
		return
	}
	logger.Info("Waiting for authorization in the browser", "url", url)
}
