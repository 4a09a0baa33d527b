// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/AleutianSheets/services/sheets/model"
	"github.com/AleutianAI/AleutianSheets/services/sheets/selection"
)

// DefaultRedisPrefix namespaces every key the Redis backend writes.
const DefaultRedisPrefix = "sheets:"

// RedisStore persists one entity kind in a Redis hash.
//
// The hash is "<prefix>entities:<kind>", field = selection key, value = JSON.
type RedisStore[V model.Entity] struct {
	client   redis.UniversalClient
	hash     string
	newValue func() V
}

// NewRedisStore creates a store for entities of kind under prefix.
func NewRedisStore[V model.Entity](client redis.UniversalClient, prefix string, kind selection.Kind, newValue func() V) *RedisStore[V] {
	return &RedisStore[V]{
		client:   client,
		hash:     prefix + "entities:" + kind.String(),
		newValue: newValue,
	}
}

// Load implements Store.
func (s *RedisStore[V]) Load(ctx context.Context, sel selection.Selection) (V, bool, error) {
	var zero V
	data, err := s.client.HGet(ctx, s.hash, sel.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("load %s: %w", sel.Key(), err)
	}
	v := s.newValue()
	if err := json.Unmarshal(data, v); err != nil {
		return zero, false, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, sel.Key(), err)
	}
	return v, true, nil
}

// Save implements Store.
func (s *RedisStore[V]) Save(ctx context.Context, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", value.Selection().Key(), err)
	}
	if err := s.client.HSet(ctx, s.hash, value.Selection().Key(), data).Err(); err != nil {
		return fmt.Errorf("save %s: %w", value.Selection().Key(), err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore[V]) Delete(ctx context.Context, sel selection.Selection) error {
	if err := s.client.HDel(ctx, s.hash, sel.Key()).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", sel.Key(), err)
	}
	return nil
}

// All implements Store.
func (s *RedisStore[V]) All(ctx context.Context) ([]V, error) {
	fields, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.hash, err)
	}
	out := make([]V, 0, len(fields))
	for key, data := range fields {
		v := s.newValue()
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
		}
		out = append(out, v)
	}
	sortEntities(out)
	return out, nil
}

// =============================================================================
// References
// =============================================================================

// RedisReferences keeps each side of an edge in a Redis set:
// "<prefix>from:<key>" holds targets and "<prefix>to:<key>" holds sources.
type RedisReferences struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisReferences creates the reference indices under prefix.
func NewRedisReferences(client redis.UniversalClient, prefix string) *RedisReferences {
	return &RedisReferences{client: client, prefix: prefix}
}

func (r *RedisReferences) fromKey(sel selection.Selection) string {
	return r.prefix + "from:" + sel.Key()
}

func (r *RedisReferences) toKey(sel selection.Selection) string {
	return r.prefix + "to:" + sel.Key()
}

// AddReference implements ReferenceStore.
func (r *RedisReferences) AddReference(ctx context.Context, from, to selection.Selection) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.fromKey(from), to.Key())
		pipe.SAdd(ctx, r.toKey(to), from.Key())
		return nil
	})
	if err != nil {
		return fmt.Errorf("add reference %s -> %s: %w", from.Key(), to.Key(), err)
	}
	return nil
}

// RemoveReference implements ReferenceStore.
func (r *RedisReferences) RemoveReference(ctx context.Context, from, to selection.Selection) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.fromKey(from), to.Key())
		pipe.SRem(ctx, r.toKey(to), from.Key())
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove reference %s -> %s: %w", from.Key(), to.Key(), err)
	}
	return nil
}

// RemoveReferencesFrom implements ReferenceStore.
func (r *RedisReferences) RemoveReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error) {
	targets, err := r.members(ctx, r.fromKey(from))
	if err != nil {
		return nil, err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, to := range targets {
			pipe.SRem(ctx, r.toKey(to), from.Key())
		}
		pipe.Del(ctx, r.fromKey(from))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove references from %s: %w", from.Key(), err)
	}
	return targets, nil
}

// ReferencesFrom implements ReferenceStore.
func (r *RedisReferences) ReferencesFrom(ctx context.Context, from selection.Selection) ([]selection.Selection, error) {
	return r.members(ctx, r.fromKey(from))
}

// ReferencesTo implements ReferenceStore.
func (r *RedisReferences) ReferencesTo(ctx context.Context, to selection.Selection) ([]selection.Selection, error) {
	return r.members(ctx, r.toKey(to))
}

func (r *RedisReferences) members(ctx context.Context, key string) ([]selection.Selection, error) {
	keys, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([]selection.Selection, 0, len(keys))
	for _, k := range keys {
		sel, err := selection.FromKey(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %s member %q: %v", ErrCorruptRecord, key, k, err)
		}
		out = append(out, sel)
	}
	sortSelections(out)
	return out, nil
}

// NewRedisStores returns a complete set of stores sharing client. An empty
// prefix selects DefaultRedisPrefix.
func NewRedisStores(client redis.UniversalClient, prefix string) Stores {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return Stores{
		Cells:      NewRedisStore(client, prefix, selection.KindCell, NewCell),
		Columns:    NewRedisStore(client, prefix, selection.KindColumn, NewColumn),
		Rows:       NewRedisStore(client, prefix, selection.KindRow, NewRow),
		Labels:     NewRedisStore(client, prefix, selection.KindLabel, NewLabel),
		References: NewRedisReferences(client, prefix+"refs:"),
	}
}

// OpenRedis connects to addr, which may be "host:port" or a redis:// URL, and
// checks the connection with PING.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if parsed, err := redis.ParseURL(addr); err == nil {
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}
