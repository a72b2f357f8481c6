package readings

import (
	"context"
	"fmt"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/database"
	"github.com/nerrad567/fieldmesh/migrations"
)

// Open builds the Store selected by cfg.Store.Backend. The returned store
// owns any connection it opened.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", config.StoreMemory:
		return NewMemoryStore(), nil

	case config.StoreSQLite:
		db, err := database.Open(database.FromConfig(cfg.Database))
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("migrating reading store: %w", err)
		}
		s := NewSQLiteStore(db)
		s.owned = true
		return s, nil

	case config.StoreRedis:
		return DialRedis(ctx, cfg.Redis)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend)
	}
}
