// Package app builds the pieces shared by the binaries from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindfriend/backend/internal/config"
	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
	"github.com/zhouzirui/mindfriend/backend/internal/store/sqlstore"
)

// OpenStore opens the log store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (store.Store, error) {
	var dialect sqlstore.Dialect
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store; history is lost on restart")
		return store.NewMemoryStore(), nil
	case config.DriverSQLite:
		dialect = sqlstore.DialectSQLite
	case config.DriverLibSQL:
		dialect = sqlstore.DialectLibSQL
	case config.DriverPostgres:
		dialect = sqlstore.DialectPostgres
	default:
		return nil, fmt.Errorf("%w: %s", sqlstore.ErrUnknownDialect, cfg.Driver)
	}

	s, err := sqlstore.Open(ctx, dialect, cfg.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return s, nil
}

// LoadPersona returns the persona the bot plays: the default one from path
// when set, else the built-in seed.
func LoadPersona(path string) (persona.Persona, error) {
	items := persona.Seed()
	if path != "" {
		loaded, err := persona.LoadFile(path)
		if err != nil {
			return persona.Persona{}, err
		}
		items = loaded
	}
	if len(items) == 0 {
		return persona.Persona{}, fmt.Errorf("no persona defined in %s", path)
	}

	var personas persona.Store = persona.NewMemoryStore(items)
	if p, ok := personas.FindByID(persona.DefaultID); ok {
		return p, nil
	}
	return personas.List()[0], nil
}
