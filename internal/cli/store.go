package cli

import (
	"context"

	"github.com/testwarden/testwarden/internal/store"
	"github.com/testwarden/testwarden/pkg/types"
)

// OpenStore constructs the Result Store named by the configuration.
func OpenStore(ctx context.Context, config *Config) (store.Store, error) {
	switch config.StoreBackend {
	case types.StoreMemory:
		return store.NewMemory(), nil
	case types.StorePostgres:
		return store.NewPostgres(ctx, config.ConnectionString)
	default:
		return store.NewFile(config.StateDir)
	}
}
