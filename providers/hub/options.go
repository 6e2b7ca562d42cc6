package hub

import (
	"net/http"
	"os"
	"time"
)

type options struct {
	token      string
	baseURL    string
	model      string
	embedModel string
	models     []string
	timeout    time.Duration
	httpClient *http.Client
}

func defaultOptions() options {
	return options{
		token:      os.Getenv("HUGGINGFACE_TOKEN"),
		baseURL:    "https://api-inference.huggingface.co/models",
		model:      "microsoft/DialoGPT-medium",
		embedModel: "sentence-transformers/all-MiniLM-L6-v2",
		timeout:    30 * time.Second,
	}
}

// Option configures the client.
type Option func(*options)

// WithToken sets the API token. Anonymous access works for public models at
// reduced rate limits.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithBaseURL overrides the inference API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithEmbedModel sets the default embedding model.
func WithEmbedModel(model string) Option {
	return func(o *options) { o.embedModel = model }
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
