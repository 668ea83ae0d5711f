// Package mainconfig holds the startup wiring shared by the binaries.
package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/fieldhand/internal/app/bootstrap"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/observability/metrics"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// localstackServices are redirected by AWS_ENDPOINT_OVERRIDE. Bedrock always
// goes to AWS.
var localstackServices = map[string]bool{
	sqs.ServiceID:      true,
	dynamodb.ServiceID: true,
	s3.ServiceID:       true,
	sesv2.ServiceID:    true,
}

// LoadAWSConfig centralizes AWS SDK initialization so every binary shares the
// same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				if !localstackServices[service] {
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
				return aws.Endpoint{
					URL:               endpoint,
					PartitionID:       "aws",
					SigningRegion:     cfg.AWSRegion,
					HostnameImmutable: service == s3.ServiceID,
				}, nil
			},
		)
	}

	return awsCfg, nil
}

// OpenInfra connects AWS, Redis and Postgres. The returned func closes
// whatever was opened.
func OpenInfra(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.PipelineMetrics) (bootstrap.Infra, func(), error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return bootstrap.Infra{}, nil, fmt.Errorf("load aws config: %w", err)
	}
	pool, db, err := bootstrap.BuildPostgres(ctx, cfg)
	if err != nil {
		return bootstrap.Infra{}, nil, err
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	cleanup := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if db != nil {
			_ = db.Close()
		}
		if pool != nil {
			pool.Close()
		}
	}
	return bootstrap.Infra{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		AWS:     awsCfg,
		Redis:   redisClient,
		Pool:    pool,
		DB:      db,
	}, cleanup, nil
}
