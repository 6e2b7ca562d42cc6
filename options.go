package farm

import (
	"log/slog"

	"github.com/Cstannahill/farm-framework/router"
)

type clientOptions struct {
	logger *slog.Logger
	router *router.Router
}

// Option configures the client.
type Option func(*clientOptions)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithRouter injects a pre-built router, mainly for tests.
func WithRouter(r *router.Router) Option {
	return func(o *clientOptions) { o.router = r }
}
