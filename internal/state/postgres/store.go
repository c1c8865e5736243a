// Package postgres provides a Postgres-backed task state store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webreport/scrapetask/internal/task"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for task state rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists per-task key/value rows in a single table keyed by
// (task_id, key).
type Store struct {
	pool  querier
	table string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "task_state"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewStoreWithPool wires an existing pool (or a pgxmock pool in tests).
func NewStoreWithPool(pool querier, table string) (*Store, error) {
	if table == "" {
		table = "task_state"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// EnsureSchema creates the task state table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		task_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (task_id, key)
	)`, s.table)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Scope returns the key/value scope for one task identifier.
func (s *Store) Scope(taskID string) task.StateScope {
	return &scope{store: s, taskID: taskID}
}

type scope struct {
	store  *Store
	taskID string
}

func (sc *scope) Get(ctx context.Context, key string) (string, bool, error) {
	stmt := fmt.Sprintf("SELECT value FROM %s WHERE task_id = $1 AND key = $2", sc.store.table)
	var value string
	err := sc.store.pool.QueryRow(ctx, stmt, sc.taskID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select %s: %w", key, err)
	}
	return value, true, nil
}

func (sc *scope) SetMulti(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]string, 0, len(keys))
	args := make([]any, 0, 1+2*len(keys))
	args = append(args, sc.taskID)
	for i, k := range keys {
		rows = append(rows, fmt.Sprintf("($1, $%d, $%d)", 2*i+2, 2*i+3))
		args = append(args, k, values[k])
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (task_id, key, value) VALUES %s ON CONFLICT (task_id, key) DO UPDATE SET value = EXCLUDED.value",
		sc.store.table, strings.Join(rows, ", "),
	)
	if _, err := sc.store.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

func (sc *scope) DeleteMulti(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE task_id = $1 AND key = ANY($2)", sc.store.table)
	if _, err := sc.store.pool.Exec(ctx, stmt, sc.taskID, keys); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
