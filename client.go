package facet

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// NewClient wraps an AWS configuration in a DynamoDB client usable as
// TableParams.Client.
func NewClient(cfg aws.Config) DynamoClient {
	return ddb.NewFromConfig(cfg)
}

// LoadDefaultClient builds a client from the default AWS configuration chain:
// environment, shared config files, then instance or task roles. Pass
// config.WithRegion or similar options to override parts of the chain.
func LoadDefaultClient(ctx context.Context, optFns ...func(*config.LoadOptions) error) (DynamoClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, NewError("cannot load AWS configuration", WithCode(ErrRuntime), WithCause(err))
	}
	return ddb.NewFromConfig(cfg), nil
}
