package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/ekilie/ekilisync/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Open builds the Store selected by cfg.Storage.Driver. The returned close
// function releases any connection the store holds.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return NewMemoryStore(), noop, nil

	case config.StorageFile:
		return NewFileStore(cfg.Storage.FilePath, logger), noop, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Endpoint, err)
		}

		logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
		return NewRedisStore(client, logger), client.Close, nil

	case config.StorageDynamoDB:
		client, err := newDynamoClient(ctx, &cfg.DynamoDB)
		if err != nil {
			return nil, nil, err
		}

		logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
		return NewDynamoStore(client, cfg.DynamoDB.TableName, logger), noop, nil
	}

	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func newDynamoClient(ctx context.Context, cfg *config.DynamoDBConfig) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.Endpoint,
						SigningRegion: cfg.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg), nil
}
