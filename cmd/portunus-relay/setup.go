package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/config"
	"github.com/BrandonDHaskell/Portunus/relay/internal/db"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eeprom"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eeprom/badgerstore"
	eepromsqlite "github.com/BrandonDHaskell/Portunus/relay/internal/eeprom/sqlite"
	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
)

// openRegion returns the persistent region selected by cfg and a func that
// releases it.
func openRegion(ctx context.Context, cfg config.Config, conn *sql.DB, writer *db.Worker) (eeprom.Region, func() error, error) {
	noop := func() error { return nil }

	switch cfg.EEPROMBackend {
	case "memory":
		return eeprom.NewMemory(eeprom.Size), noop, nil
	case "sqlite":
		r, err := eepromsqlite.Open(ctx, conn, writer, cfg.RegionName, eeprom.Size)
		if err != nil {
			return nil, nil, err
		}
		return r, noop, nil
	case "badger":
		bdb, err := badgerstore.OpenDB(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		r, err := badgerstore.Open(bdb, cfg.RegionName, eeprom.Size)
		if err != nil {
			_ = bdb.Close()
			return nil, nil, err
		}
		return r, bdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: eeprom backend %q", config.ErrInvalid, cfg.EEPROMBackend)
	}
}

// seedTags authorizes each configured tag, adding it when missing.
func seedTags(table *authtable.Table, tags []string, logger zerolog.Logger) error {
	for _, raw := range tags {
		tag, err := authtable.ParseTagID(raw)
		if err != nil {
			return fmt.Errorf("seed tag: %w", err)
		}
		res, err := table.SetUserAuth(tag, true)
		if err != nil {
			return fmt.Errorf("seed tag %s: %w", tag, err)
		}
		if res == authtable.Full {
			return fmt.Errorf("seed tag %s: %w", tag, authtable.ErrFull)
		}
		logger.Info().Str("tag", tag.String()).Str("result", res.String()).Msg("dev seed: tag authorized")
	}
	return nil
}

var errInitialMode = errors.New("initial mode must be enabled, disabled or auto")

func initialState(name string) (mode.State, error) {
	switch name {
	case "enabled":
		return mode.Enabled, nil
	case "disabled":
		return mode.Disabled, nil
	case "auto":
		return mode.AutoPending, nil
	default:
		return mode.Enabled, errInitialMode
	}
}
