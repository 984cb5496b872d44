package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// Env variables holding the OAuth client when no credentials file is given.
const (
	EnvClientID     = "OAUTH_GOOGLE_CLIENT_ID"
	EnvClientSecret = "OAUTH_GOOGLE_CLIENT_SECRET"
)

// ErrNoClient indicates neither a credentials file nor client env variables are available.
var ErrNoClient = errors.New("oauth client not configured")

// ClientOptions locate the OAuth client.
type ClientOptions struct {
	CredentialsFile string
	EnvFile         string
	RedirectURL     string
}

// NewConfig builds a read-only Gmail OAuth config, either from a downloaded credentials.json
// or from the client env variables, optionally loaded from an env file.
func NewConfig(opts ClientOptions) (*oauth2.Config, error) {
	if opts.CredentialsFile != "" {
		raw, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("os.ReadFile failed: %w", err)
		}

		cfg, err := google.ConfigFromJSON(raw, gmail.GmailReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("google.ConfigFromJSON failed: %w", err)
		}
		if opts.RedirectURL != "" {
			cfg.RedirectURL = opts.RedirectURL
		}

		return cfg, nil
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("godotenv.Load failed: %w", err)
		}
	}

	clientID := os.Getenv(EnvClientID)
	clientSecret := os.Getenv(EnvClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: pass --credentials or set %s and %s", ErrNoClient, EnvClientID, EnvClientSecret)
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  opts.RedirectURL,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}, nil
}
