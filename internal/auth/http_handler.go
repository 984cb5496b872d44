package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

type tok interface {
	AuthorizeCode(context.Context, string, string) error
	OAuthToken() (*oauth2.Token, error)
	RedirectURL() (string, error)
}

// HTTPHandler handles the OAuth2 redirect of the local consent flow.
type HTTPHandler struct {
	tok    tok
	logger *log.Logger
}

// NewHTTPHandler creates an HTTP handler for OAuth2 flow.
func NewHTTPHandler(tok tok, logger *log.Logger) *HTTPHandler {
	return &HTTPHandler{tok: tok, logger: logger}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("redirect") != "" {
		u, err := h.tok.RedirectURL()
		if err != nil {
			h.logger.Error("tok.RedirectURL failed", "err", err)
			http.Error(w, "Unable to start authorization", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
		return
	}

	if msg := r.URL.Query().Get("error"); msg != "" {
		h.logger.Warn("authorization denied", "error", msg)
		http.Error(w, "Authorization denied: "+msg, http.StatusForbidden)
		return
	}

	if code := r.URL.Query().Get("code"); code != "" {
		state := r.URL.Query().Get("state")
		if err := h.tok.AuthorizeCode(r.Context(), code, state); err != nil {
			h.logger.Error("tok.AuthorizeCode failed", "err", err)
			http.Error(w, "Unable to authorize provided code", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, r.URL.EscapedPath(), http.StatusFound)
		return
	}

	t, err := h.tok.OAuthToken()
	if errors.Is(err, ErrTokenNotSet) {
		http.Error(w, "Token not found", http.StatusUnauthorized)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Authorized, you can close this window. Token: %s, expires: %s",
		maskLeft(t.AccessToken), t.Expiry.Format(time.RFC3339))
}

func maskLeft(s string) string {
	rs := []rune(s)
	for i := 0; i < len(rs)-4; i++ {
		rs[i] = 'X'
	}
	return string(rs)
}
