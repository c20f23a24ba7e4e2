package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"booksoul/internal/config"
	"booksoul/internal/integrations/paramstore"
	"booksoul/internal/repository"
	"booksoul/internal/repository/memstore"
)

// LoadDeps creates the SSM client and the store selected by STORE_BACKEND
// from the default AWS credential chain.
func LoadDeps(ctx context.Context, cfg config.Config) (Deps, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return Deps{}, fmt.Errorf("app: load aws config: %w", err)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return Deps{}, fmt.Errorf("app: ssm client: %w", err)
	}

	deps := Deps{Params: params}
	switch cfg.StoreBackend {
	case config.BackendMemory:
		deps.Store = memstore.New()
	case config.BackendDynamo:
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return Deps{}, fmt.Errorf("app: state client: %w", err)
		}
		deps.Store = store
	default:
		return Deps{}, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
	return deps, nil
}
