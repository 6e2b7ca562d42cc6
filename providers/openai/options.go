package openai

import (
	"net/http"
	"os"
	"time"
)

type options struct {
	apiKey     string
	baseURL    string
	model      string
	models     []string
	timeout    time.Duration
	httpClient *http.Client
}

func defaultOptions() options {
	return options{
		apiKey:  os.Getenv("OPENAI_API_KEY"),
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o-mini",
		timeout: 60 * time.Second,
	}
}

// Option configures the client.
type Option func(*options)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL overrides the API base URL.
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
