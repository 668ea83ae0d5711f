package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/fieldhand/cmd/mainconfig"
	"github.com/wolfman30/fieldhand/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/worker"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

const webhookPath = "/webhooks/whatsapp"

type config struct {
	verifyToken string
	appSecret   string
}

func loadConfig(cfg *appconfig.Config) (config, error) {
	if strings.TrimSpace(cfg.IntakeQueueURL) == "" {
		return config{}, errors.New("INTAKE_QUEUE_URL is required")
	}
	if strings.TrimSpace(cfg.WhatsAppAppSecret) == "" {
		return config{}, errors.New("WHATSAPP_APP_SECRET is required")
	}
	return config{
		verifyToken: cfg.WhatsAppVerifyToken,
		appSecret:   cfg.WhatsAppAppSecret,
	}, nil
}

func main() {
	appCfg := appconfig.Load()
	logger := logging.New(appCfg.LogLevel)

	cfg, err := loadConfig(appCfg)
	if err != nil {
		logger.Error("invalid lambda configuration", "error", err)
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), appCfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	publisher := worker.NewPublisher(worker.NewSQSQueue(sqs.NewFromConfig(awsCfg), appCfg.IntakeQueueURL), logger)

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, cfg, publisher, logger, evt)
	})
}

// handle mirrors the API's webhook route: GET answers Meta's challenge, POST
// verifies the signature and enqueues every parsed message. Any enqueue
// failure returns 500 so Meta redelivers the whole batch.
func handle(ctx context.Context, cfg config, publisher *worker.Publisher, logger *logging.Logger, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if strings.TrimRight(path, "/") != webhookPath {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}

	switch method {
	case http.MethodGet:
		q := evt.QueryStringParameters
		challenge, ok := whatsapp.VerifyChallenge(cfg.verifyToken, q["hub.mode"], q["hub.verify_token"], q["hub.challenge"])
		if !ok {
			return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusForbidden, Body: "Forbidden"}, nil
		}
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: challenge}, nil
	case http.MethodPost:
	default:
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}
	if !whatsapp.VerifySignature(cfg.appSecret, body, headerValue(evt.Headers, "x-hub-signature-256")) {
		logger.Warn("whatsapp webhook signature rejected", "request_id", evt.RequestContext.RequestID)
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusUnauthorized, Body: "Unauthorized"}, nil
	}

	messages, err := whatsapp.ParsePayload(body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid payload"}, nil
	}
	for _, msg := range messages {
		if _, err := publisher.Enqueue(ctx, msg); err != nil {
			logger.Error("failed to enqueue whatsapp message", "error", err, "phone", msg.Phone, "provider_message_id", msg.ProviderMessageID)
			return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}, nil
		}
	}
	logger.Debug("whatsapp webhook accepted", "messages", len(messages))
	return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK}, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

// headerValue does a case-insensitive lookup; API Gateway lowercases header
// names but local tooling does not always.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
