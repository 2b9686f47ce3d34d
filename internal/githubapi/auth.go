package githubapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"
)

// ErrMissingToken reports that no token was configured. It surfaces at
// construction time so a misconfigured service fails on startup rather
// than on the first request.
var ErrMissingToken = errors.New("github token is required")

// TokenAuthConfig configures personal access token authentication.
type TokenAuthConfig struct {
	Token         string
	Timeout       time.Duration
	BaseTransport http.RoundTripper
}

// InstallationAuthConfig configures GitHub App installation authentication.
type InstallationAuthConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	Timeout        time.Duration
	BaseTransport  http.RoundTripper
}

// NewTokenHTTPClient creates an HTTP client that authenticates every
// request with a personal access token.
func NewTokenHTTPClient(cfg TokenAuthConfig) (*http.Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}

	baseTransport := cfg.BaseTransport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	return &http.Client{
		Transport: &oauth2.Transport{
			Base:   baseTransport,
			Source: source,
		},
		Timeout: cfg.Timeout,
	}, nil
}

// NewInstallationHTTPClient creates an authenticated HTTP client for one
// GitHub App installation.
func NewInstallationHTTPClient(cfg InstallationAuthConfig) (*http.Client, error) {
	if cfg.AppID <= 0 {
		return nil, fmt.Errorf("app id must be > 0")
	}
	if cfg.InstallationID <= 0 {
		return nil, fmt.Errorf("installation id must be > 0")
	}
	if strings.TrimSpace(cfg.PrivateKeyPath) == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	baseTransport := cfg.BaseTransport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	transport, err := ghinstallation.NewKeyFromFile(baseTransport, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("create github app transport: %w", err)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}
