package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgarciaq/forms-auditor/internal/common"
)

// Config configures the HTTP clients for both external services.
type Config struct {
	LocateURL string
	TextURL   string
	APIKey    string
	Timeout   time.Duration
}

// Client talks to the AI localization and text-recognition services over
// HTTP JSON. Every reply is schema-validated before it is parsed; a reply
// that does not match is an error for the caller to absorb per its own
// fallback policy.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

type locatePayload struct {
	ImageBase64 string         `json:"image_base64"`
	Fields      []FieldSpec    `json:"fields"`
	Schema      map[string]any `json:"response_schema"`
}

type locateReply struct {
	Boxes []RawBox `json:"boxes"`
}

// LocateBoxes submits the page and the full expected-field list in one call
// and returns the raw candidate boxes in the service's 0..1000 grid.
func (c *Client) LocateBoxes(ctx context.Context, req LocateRequest) ([]RawBox, error) {
	ids := make([]string, 0, len(req.Fields))
	for _, f := range req.Fields {
		ids = append(ids, f.ID)
	}
	schema := BuildLocateJSONSchema(ids)

	body := locatePayload{
		ImageBase64: base64.StdEncoding.EncodeToString(req.ImagePNG),
		Fields:      req.Fields,
		Schema:      schema,
	}
	// Any transport failure or rejected reply is the same condition for
	// callers: localization is unavailable and fallback coordinates apply.
	raw, _, err := SendJSON(ctx, c.http, c.cfg.LocateURL, body, c.headers(), c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: locate call: %v", common.ErrLocalizationUnavailable, err)
	}
	if err := ValidateJSONAgainstSchema(schema, raw); err != nil {
		return nil, fmt.Errorf("%w: locate reply rejected: %v", common.ErrLocalizationUnavailable, err)
	}
	var reply locateReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: decode locate reply: %v", common.ErrLocalizationUnavailable, err)
	}
	return reply.Boxes, nil
}

type textPayload struct {
	ImageBase64 string         `json:"image_base64"`
	Fields      []FieldSpec    `json:"fields"`
	Schema      map[string]any `json:"response_schema"`
}

// RecognizeText reads the named free-text fields off the page. A null value
// in the reply means the service could not read that field.
func (c *Client) RecognizeText(ctx context.Context, req TextRequest) (map[string]*string, error) {
	ids := make([]string, 0, len(req.Fields))
	for _, f := range req.Fields {
		ids = append(ids, f.ID)
	}
	schema := BuildTextJSONSchema(ids)

	body := textPayload{
		ImageBase64: base64.StdEncoding.EncodeToString(req.ImagePNG),
		Fields:      req.Fields,
		Schema:      schema,
	}
	raw, _, err := SendJSON(ctx, c.http, c.cfg.TextURL, body, c.headers(), c.logger)
	if err != nil {
		return nil, fmt.Errorf("text call: %w", err)
	}
	if err := ValidateJSONAgainstSchema(schema, raw); err != nil {
		return nil, fmt.Errorf("text reply rejected: %w", err)
	}
	var reply map[string]*string
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode text reply: %w", err)
	}
	return reply, nil
}
