package oras

import (
	"log/slog"
	"net/http"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// Option configures a Client.
type Option func(*Client)

// WithCredentialStore adds a credential store. Stores are consulted in the
// order they are added, after static credentials.
func WithCredentialStore(store credentials.Store) Option {
	return func(c *Client) {
		c.keys.addStore(store)
	}
}

// WithStaticCredentials adds a username and password for one registry.
// Repeat the option for more registries.
func WithStaticCredentials(registry, username, password string) Option {
	return func(c *Client) {
		c.keys.addStatic(registry, auth.Credential{Username: username, Password: password})
	}
}

// WithStaticToken adds a bearer token for one registry.
func WithStaticToken(registry, token string) Option {
	return func(c *Client) {
		c.keys.addStatic(registry, auth.Credential{AccessToken: token})
	}
}

// WithDockerConfig adds the docker config store. A missing or unreadable
// config is logged at debug level and otherwise ignored.
func WithDockerConfig() Option {
	return func(c *Client) {
		store, err := DockerStore()
		if err != nil {
			c.deferred = append(c.deferred, func(l *slog.Logger) {
				l.Debug("docker credentials unavailable", "error", err)
			})
			return
		}
		c.keys.addStore(store)
	}
}

// WithPlainHTTP talks to registries over plain HTTP.
func WithPlainHTTP(enabled bool) Option {
	return func(c *Client) {
		c.plainHTTP = enabled
	}
}

// WithAnonymous sends no credentials, whatever else is configured.
func WithAnonymous() Option {
	return func(c *Client) {
		c.anonymous = true
	}
}

// WithUserAgent sets the User-Agent header for requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient replaces the retrying HTTP client used underneath token
// exchange and every registry request.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger for registry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
