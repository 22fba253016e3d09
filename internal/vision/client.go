package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/pkg/circuitbreaker"
)

const (
	defaultBaseURL   = "https://api.groq.com/openai/v1"
	defaultModel     = "meta-llama/llama-4-scout-17b-16e-instruct"
	defaultMaxTokens = 2000
	defaultTimeout   = 90 * time.Second

	// Low temperature keeps extraction near-deterministic.
	temperature = 0.1
)

// extractionPrompt asks the model for the exact JSON contract shared with
// the normalizer.
const extractionPrompt = `Analyze this prescription image and extract the following information in JSON format:

{
  "doctor_name": "Doctor's full name",
  "patient_name": "Patient's full name",
  "date": "Date on prescription (format: DD/MM/YYYY)",
  "diagnosis": "Diagnosis or condition mentioned",
  "medicines": [
    {
      "medicine_name": "Full medicine name",
      "dosage": "Dosage (e.g., 500mg, 10ml)",
      "frequency": "How often to take (e.g., twice daily, 3 times a day)",
      "duration": "Duration (e.g., 7 days, 2 weeks)",
      "quantity": "Total quantity",
      "instructions": "Special instructions (e.g., after food, before sleep)"
    }
  ],
  "notes": "Any additional notes or instructions"
}

Only return the JSON object. If any field is not found or unclear, use an empty string "" for text fields or empty array [] for medicines.
Extract all medicines you can identify from the prescription.`

// Config holds vision client configuration.
type Config struct {
	// APIKey is the remote model credential. Required.
	APIKey string
	// BaseURL is the OpenAI-compatible endpoint root.
	BaseURL string
	// Model is the vision model identifier.
	Model string
	// MaxTokens bounds the completion size.
	MaxTokens int
	// Timeout caps the remote call; expiry is a remote-call failure.
	Timeout time.Duration
}

// DefaultConfig returns production defaults for the given credential.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:    apiKey,
		BaseURL:   defaultBaseURL,
		Model:     defaultModel,
		MaxTokens: defaultMaxTokens,
		Timeout:   defaultTimeout,
	}
}

// Client calls a remote multimodal chat-completion endpoint to read
// prescription images.
type Client struct {
	config  Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates a vision client. A missing credential is a
// configuration error, fatal at construction.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, errs.New(errs.KindConfiguration, "vision API key is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("vision-extraction"), logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("vision-client"),
	}, nil
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         float64       `json:"temperature"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the image and extraction prompt to the remote model and
// returns its raw text output. Failures are remote-call errors; parsing
// the output is the normalizer's job.
func (c *Client) Extract(ctx context.Context, image []byte) (string, error) {
	ctx, span := c.tracer.Start(ctx, "vision_extract",
		trace.WithAttributes(
			attribute.String("model", c.config.Model),
			attribute.Int("image_bytes", len(image)),
		))
	defer span.End()

	encoded := base64.StdEncoding.EncodeToString(image)
	reqBody := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: extractionPrompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/jpeg;base64," + encoded,
				}},
			},
		}},
		Temperature:         temperature,
		MaxCompletionTokens: c.config.MaxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.doRequest(ctx, payload)
	})
	if err != nil {
		span.RecordError(err)
		if errs.KindOf(err) == errs.KindRemoteCall {
			return "", err
		}
		return "", errs.Wrap(errs.KindRemoteCall, "vision call failed", err)
	}

	return result.(string), nil
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", errs.Wrap(errs.KindRemoteCall, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindRemoteCall, "vision API request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.Wrap(errs.KindRemoteCall, "read vision API response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", errs.Newf(errs.KindRemoteCall, "vision API returned %d: %s",
			resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errs.Wrap(errs.KindRemoteCall, "decode vision API response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errs.New(errs.KindRemoteCall, "vision API returned no choices")
	}

	c.logger.Debug("vision extraction call completed",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("response_bytes", len(body)))

	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
