package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// Queue / worker
	UseMemoryQueue      bool
	WorkerCount         int
	IntakeQueueURL      string
	ReceiveWaitSeconds  int
	ReceiveBatchSize    int
	PipelineTimeout     time.Duration
	WorkerMaxAge        time.Duration
	ProcessedRetention  time.Duration
	PurgeInterval       time.Duration
	LockTTL             time.Duration
	LockWait            time.Duration
	ContinuationTTL     time.Duration
	RegistrationTTL     time.Duration
	SessionBackend      string
	SessionTable        string

	// Storage
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	ReferenceTTL  time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	MediaBucket         string

	// Classifier
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string
	TranscriptionModel  string
	ClassifierMaxTokens int

	// WhatsApp Cloud API
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppAppSecret     string
	WhatsAppVerifyToken   string
	WhatsAppGraphBaseURL  string

	// Management application API
	ERPBaseURL string
	ERPAPIKey  string
	ERPTimeout time.Duration

	// Admin
	AdminJWTSecret     string
	WebchatEnabled     bool
	ConsoleToken       string
	ConsoleRatePerSec  float64
	ConsoleBurst       int
	CORSAllowedOrigins []string

	// Failure alerts
	AlertEmailTo      string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	AlertWindow       time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 4),
		IntakeQueueURL:      getEnv("INTAKE_QUEUE_URL", ""),
		ReceiveWaitSeconds:  getEnvAsInt("RECEIVE_WAIT_SECONDS", 10),
		ReceiveBatchSize:    getEnvAsInt("RECEIVE_BATCH_SIZE", 5),
		PipelineTimeout:     getEnvAsDuration("PIPELINE_TIMEOUT", 45*time.Second),
		WorkerMaxAge:        getEnvAsDuration("WORKER_MAX_JOB_AGE", 0),
		ProcessedRetention:  getEnvAsDuration("PROCESSED_EVENT_RETENTION", 7*24*time.Hour),
		PurgeInterval:       getEnvAsDuration("PROCESSED_EVENT_PURGE_INTERVAL", time.Hour),
		LockTTL:             getEnvAsDuration("PHONE_LOCK_TTL", time.Minute),
		LockWait:            getEnvAsDuration("PHONE_LOCK_WAIT", 20*time.Second),
		ContinuationTTL:     getEnvAsDuration("CONTINUATION_TTL", 24*time.Hour),
		RegistrationTTL:     getEnvAsDuration("REGISTRATION_TTL", 72*time.Hour),
		SessionBackend:      strings.ToLower(strings.TrimSpace(getEnv("SESSION_BACKEND", "redis"))),
		SessionTable:        getEnv("SESSION_TABLE", "fieldhand_sessions"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		ReferenceTTL:  getEnvAsDuration("REFERENCE_CACHE_TTL", 5*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		MediaBucket:         getEnv("MEDIA_BUCKET", ""),

		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		TranscriptionModel:  getEnv("TRANSCRIPTION_MODEL_ID", "gemini-2.5-flash"),
		ClassifierMaxTokens: getEnvAsInt("CLASSIFIER_MAX_TOKENS", 600),

		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppGraphBaseURL:  getEnv("WHATSAPP_GRAPH_BASE_URL", ""),

		ERPBaseURL: getEnv("ERP_BASE_URL", ""),
		ERPAPIKey:  getEnv("ERP_API_KEY", ""),
		ERPTimeout: getEnvAsDuration("ERP_TIMEOUT", 15*time.Second),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		WebchatEnabled:     getEnvAsBool("WEBCHAT_ENABLED", false),
		ConsoleToken:       getEnv("WEBCHAT_CONSOLE_TOKEN", ""),
		ConsoleRatePerSec:  getEnvAsFloat("WEBCHAT_RATE_PER_SEC", 2),
		ConsoleBurst:       getEnvAsInt("WEBCHAT_RATE_BURST", 10),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		AlertEmailTo:      getEnv("ALERT_EMAIL_TO", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Fieldhand"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		AlertWindow:       getEnvAsDuration("ALERT_WINDOW", 15*time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
