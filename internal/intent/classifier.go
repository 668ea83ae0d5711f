package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/fieldhand/internal/llm"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Request carries the text to classify and the tenant's reference data. Only
// the names listed here are offered to the model.
type Request struct {
	Text       string
	Locations  []string
	Categories []string
	UserID     string
	// Allowed narrows the tags the model may answer with. Empty means all.
	Allowed []Tag
}

// Classifier turns free text into a Result. Transport failures are returned as
// errors; "not understood" is a Result with neither field set.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// LatencyObserver records classifier timings by outcome.
type LatencyObserver interface {
	ObserveClassifier(outcome string, d time.Duration)
}

// LLMClassifier implements Classifier over an llm.Client.
type LLMClassifier struct {
	client    llm.Client
	model     string
	maxTokens int32
	logger    *logging.Logger
	observer  LatencyObserver
	now       func() time.Time
}

type ClassifierOption func(*LLMClassifier)

func WithMaxTokens(n int) ClassifierOption {
	return func(c *LLMClassifier) {
		if n > 0 {
			c.maxTokens = int32(n)
		}
	}
}

func WithLatencyObserver(o LatencyObserver) ClassifierOption {
	return func(c *LLMClassifier) {
		c.observer = o
	}
}

func WithClock(now func() time.Time) ClassifierOption {
	return func(c *LLMClassifier) {
		if now != nil {
			c.now = now
		}
	}
}

func NewLLMClassifier(client llm.Client, model string, logger *logging.Logger, opts ...ClassifierOption) *LLMClassifier {
	if client == nil {
		panic("intent: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &LLMClassifier{
		client:    client,
		model:     model,
		maxTokens: 600,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LLMClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, nil
	}
	start := c.now()
	resp, err := c.client.Complete(ctx, llm.Request{
		Model:       c.model,
		System:      []string{systemPrompt(req, c.now())},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens:   c.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		c.observe("error", start)
		return Result{}, fmt.Errorf("intent: classify: %w", err)
	}

	result := c.parse(resp.Text, req)
	switch {
	case result.Intent != nil:
		c.observe(string(result.Intent.Tag), start)
	case result.Error != "":
		c.observe("rejected", start)
	default:
		c.observe("none", start)
	}
	return result, nil
}

func (c *LLMClassifier) observe(outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveClassifier(outcome, c.now().Sub(start))
	}
}

type modelAnswer struct {
	Tag     string          `json:"tag"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

// parse never fails: malformed model output degrades to "not understood".
func (c *LLMClassifier) parse(raw string, req Request) Result {
	body := extractJSONObject(raw)
	if body == "" {
		c.logger.Warn("classifier returned no json object", "user_id", req.UserID)
		return Result{}
	}
	var answer modelAnswer
	if err := json.Unmarshal([]byte(body), &answer); err != nil {
		c.logger.Warn("classifier returned invalid json", "user_id", req.UserID, "error", err)
		return Result{}
	}
	if msg := strings.TrimSpace(answer.Error); msg != "" {
		return Rejected(msg)
	}
	if strings.EqualFold(strings.TrimSpace(answer.Tag), "none") || strings.TrimSpace(answer.Tag) == "" {
		return Result{}
	}
	tag, ok := ParseTag(answer.Tag)
	if !ok {
		c.logger.Warn("classifier returned unknown tag", "tag", answer.Tag, "user_id", req.UserID)
		return Result{}
	}
	if len(req.Allowed) > 0 && !containsTag(req.Allowed, tag) {
		return Result{}
	}

	var in Intent
	wire, _ := json.Marshal(wireIntent{Tag: tag, Payload: answer.Payload})
	if err := json.Unmarshal(wire, &in); err != nil {
		c.logger.Warn("classifier payload did not decode", "tag", tag, "error", err)
		return Result{}
	}
	if msg := canonicalizeLocation(in.Payload, req.Locations); msg != "" {
		return Rejected(msg)
	}
	return Found(in)
}

// canonicalizeLocation rewrites single-location payloads to the tenant's
// spelling. Moves and stock edits are resolved later by the dispatcher.
func canonicalizeLocation(p Payload, known []string) string {
	var field *string
	switch v := p.(type) {
	case *LivestockEvent:
		field = &v.Location
	case *AgricultureEvent:
		field = &v.Location
	case *SupplyEvent:
		field = &v.Location
	case *Rainfall:
		field = &v.Location
	case *GrazingReport:
		field = &v.Location
	default:
		return ""
	}
	name := strings.TrimSpace(*field)
	if name == "" {
		return ""
	}
	for _, k := range known {
		if strings.EqualFold(k, name) {
			*field = k
			return ""
		}
	}
	return fmt.Sprintf("I couldn't find a location called %q.", name)
}

func containsTag(tags []Tag, t Tag) bool {
	for _, candidate := range tags {
		if candidate == t {
			return true
		}
	}
	return false
}

// extractJSONObject returns the outermost {...} span, tolerating code fences
// and prose around it.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
