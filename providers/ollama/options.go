package ollama

import (
	"net/http"
	"os"
	"time"
)

type options struct {
	baseURL    string
	model      string
	models     []string
	timeout    time.Duration
	httpClient *http.Client
}

func defaultOptions() options {
	baseURL := os.Getenv("OLLAMA_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return options{
		baseURL: baseURL,
		// Model pulls can take minutes.
		timeout: 5 * time.Minute,
	}
}

// Option configures the client.
type Option func(*options)

// WithBaseURL points the client at a non-default daemon address.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithModels seeds the catalog with configured models.
func WithModels(models []string) Option {
	return func(o *options) { o.models = models }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}
