// Package config merges command line flags, environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hal9000y/gmail-analyzer/internal/cache"
	"github.com/hal9000y/gmail-analyzer/internal/fetch"
	"github.com/hal9000y/gmail-analyzer/internal/gservice"
)

// EnvPrefix prefixes environment overrides, e.g. GMAIL_ANALYZER_CACHE_DIR.
const EnvPrefix = "GMAIL_ANALYZER"

// Config is the resolved configuration of a run.
type Config struct {
	Top            int
	User           string
	Query          string
	Inactive       int
	MaxRetryRounds int
	PullData       bool
	RefreshData    bool
	AnalyzeOnly    bool
	ExportCSV      string
	Verbose        bool

	CacheDir     string
	CacheBackend string
	CacheTTL     time.Duration
	PageSize     int64

	Credentials  string
	EnvFile      string
	TokenFile    string
	TokenKeyring bool
	HTTPAddr     string
	OAuthURL     string

	LogFile  string
	MCPStdio bool
}

// BindFlags registers every option on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.Int("top", 10, "Number of results to show")
	fs.String("user", gservice.DefaultUserID, "User ID to fetch data for")
	fs.String("query", "", "Gmail search query (e.g., 'label:work after:2023/01/01')")
	fs.Int("inactive", 0, "Show senders inactive for more than X days")
	fs.Int("max-retry-rounds", fetch.DefaultMaxRetryRounds, "Max retry rounds for failed message fetches (0 for unlimited)")
	fs.Bool("pull-data", false, "Fetch and cache data, then exit")
	fs.Bool("refresh-data", false, "Force refresh cached data, then exit")
	fs.Bool("analyze-only", false, "Analyze using cached data only (no API calls)")
	fs.String("export-csv", "", "Export message metadata to CSV at the given path")
	fs.Bool("verbose", false, "Verbose output, helpful for debugging")

	fs.String("config", "", "Path to a YAML config file")
	fs.String("cache-dir", "cache", "Directory holding cached message metadata")
	fs.String("cache-backend", cache.BackendJSON, "Cache file format: json or sqlite")
	fs.Duration("cache-ttl", cache.DefaultTTL, "Age after which cached data is refreshed")
	fs.Int64("page-size", fetch.DefaultPageSize, "Messages listed per page (1-500)")

	fs.String("credentials", "", "Path to Google OAuth client credentials.json")
	fs.String("env-file", "", "Path to env file with OAUTH_GOOGLE_CLIENT_ID and OAUTH_GOOGLE_CLIENT_SECRET")
	fs.String("token-file", "token.json", "Path to cache google oauth token")
	fs.Bool("token-keyring", false, "Store the oauth token in the OS keyring instead of token-file")
	fs.String("http-addr", "localhost:0", "Listen addr for the OAuth redirect")
	fs.String("oauth-url", "", "OAuth redirect URL override")

	fs.String("log-file", "", "Path to log file, logs go to stderr otherwise")
	fs.Bool("mcp-stdio", false, "Serve cached statistics as MCP tools over stdio")
}

// Load resolves the configuration from the parsed flags of fs. Explicit flags win over the
// environment, which wins over the config file.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("v.BindPFlags failed: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Top:            v.GetInt("top"),
		User:           v.GetString("user"),
		Query:          v.GetString("query"),
		Inactive:       v.GetInt("inactive"),
		MaxRetryRounds: v.GetInt("max-retry-rounds"),
		PullData:       v.GetBool("pull-data"),
		RefreshData:    v.GetBool("refresh-data"),
		AnalyzeOnly:    v.GetBool("analyze-only"),
		ExportCSV:      v.GetString("export-csv"),
		Verbose:        v.GetBool("verbose"),

		CacheDir:     v.GetString("cache-dir"),
		CacheBackend: v.GetString("cache-backend"),
		CacheTTL:     v.GetDuration("cache-ttl"),
		PageSize:     v.GetInt64("page-size"),

		Credentials:  v.GetString("credentials"),
		EnvFile:      v.GetString("env-file"),
		TokenFile:    v.GetString("token-file"),
		TokenKeyring: v.GetBool("token-keyring"),
		HTTPAddr:     v.GetString("http-addr"),
		OAuthURL:     v.GetString("oauth-url"),

		LogFile:  v.GetString("log-file"),
		MCPStdio: v.GetBool("mcp-stdio"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Top < 0 {
		errs = append(errs, errors.New("--top must not be negative"))
	}
	if c.Inactive < 0 {
		errs = append(errs, errors.New("--inactive must not be negative"))
	}
	if c.MaxRetryRounds < 0 {
		errs = append(errs, errors.New("--max-retry-rounds must not be negative"))
	}
	if c.PageSize < 1 || c.PageSize > fetch.DefaultPageSize {
		errs = append(errs, fmt.Errorf("--page-size must be between 1 and %d", fetch.DefaultPageSize))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("--cache-ttl must be positive"))
	}
	switch c.CacheBackend {
	case cache.BackendJSON, cache.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("--cache-backend must be %s or %s", cache.BackendJSON, cache.BackendSQLite))
	}

	return errors.Join(errs...)
}
