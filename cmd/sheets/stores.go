// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianSheets/services/sheets/config"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store"
	"github.com/AleutianAI/AleutianSheets/services/sheets/store/badgerdb"
)

// openStores opens the configured backend. The returned close function
// releases the backend's connection or database.
func openStores(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Stores, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendMemory, "":
		return store.NewMemoryStores(), noop, nil
	case config.BackendBadger:
		dbCfg := badgerdb.DefaultConfig(cfg.Path)
		if cfg.InMemory {
			dbCfg = badgerdb.InMemoryConfig()
		}
		dbCfg.Logger = logger
		db, err := badgerdb.Open(dbCfg)
		if err != nil {
			return store.Stores{}, nil, err
		}
		return store.NewBadgerStores(db), db.Close, nil
	case config.BackendRedis:
		client, err := store.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return store.Stores{}, nil, err
		}
		prefix := cfg.RedisPrefix
		if prefix == "" {
			prefix = store.DefaultRedisPrefix
		}
		return store.NewRedisStores(client, prefix), client.Close, nil
	default:
		return store.Stores{}, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
