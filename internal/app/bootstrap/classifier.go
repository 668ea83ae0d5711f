package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/llm"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Classifier bundles the intent classifier with the Gemini client, which the
// voice-note transcriber reuses. Gemini is nil when no API key is set.
type Classifier struct {
	intent.Classifier
	Gemini *llm.GeminiClient
}

// BuildClassifier uses Bedrock when a model id is configured and Gemini as
// its fallback. Either provider alone is enough.
func BuildClassifier(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, observer intent.LatencyObserver, logger *logging.Logger) (*Classifier, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var gemini *llm.GeminiClient
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		gemini = client
	}

	var (
		client llm.Client
		model  string
	)
	bedrockModel := strings.TrimSpace(cfg.BedrockModelID)
	switch {
	case bedrockModel != "":
		var fallback llm.Client
		if gemini != nil {
			fallback = gemini
		}
		client = llm.NewFallbackClient(llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg)), fallback, logger)
		model = bedrockModel
		logger.Info("intent classifier enabled", "provider", "bedrock", "model", bedrockModel, "gemini_fallback", gemini != nil)
	case gemini != nil:
		client = gemini
		model = cfg.GeminiModelID
		logger.Info("intent classifier enabled", "provider", "gemini", "model", model)
	default:
		return nil, errors.New("bootstrap: set BEDROCK_MODEL_ID or GEMINI_API_KEY for the intent classifier")
	}

	opts := []intent.ClassifierOption{intent.WithMaxTokens(cfg.ClassifierMaxTokens)}
	if observer != nil {
		opts = append(opts, intent.WithLatencyObserver(observer))
	}
	return &Classifier{
		Classifier: intent.NewLLMClassifier(client, model, logger, opts...),
		Gemini:     gemini,
	}, nil
}

// Close releases the Gemini connection.
func (c *Classifier) Close() error {
	if c == nil || c.Gemini == nil {
		return nil
	}
	return c.Gemini.Close()
}
