package storage

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"commodity-intel/internal/config"
)

// OpenBackend builds the result backend named by result_store.driver.
// The "none" driver returns a nil Backend, which the adapter treats as no access.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch strings.ToLower(cfg.ResultStore.Driver) {
	case "postgres":
		pool, err := newPool(ctx, cfg.ResultStoreDSN(), cfg.Database)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres result store")
		}
		return NewPostgresResults(pool), nil
	case "sqlite":
		backend, err := NewSQLiteResults(cfg.ResultStoreDSN())
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "memory":
		return NewWritableMemoryResults(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported result store driver %q", cfg.ResultStore.Driver)
	}
}
