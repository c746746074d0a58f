package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/quotaguard/quotaguard/config"
	"github.com/quotaguard/quotaguard/core"
)

const driverLibsql = "libsql"

// SQL persists limiter state in a libsql database, one JSON document per
// key. Suited to durable single-host deployments and offline inspection.
type SQL struct {
	DB *sql.DB
}

// OpenSQL connects to the configured libsql database and ensures the
// schema exists.
func OpenSQL(ctx context.Context, cfg config.StoreConfig) (*SQL, error) {
	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	s := &SQL{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS limiter_state (
		key TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store migration failed: %w", err)
	}
	return nil
}

func (s *SQL) Load(ctx context.Context, key string) (*core.KeyState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	var raw string
	row := s.DB.QueryRowContext(ctx, `SELECT state FROM limiter_state WHERE key = ?`, key)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch limiter state: %w", err)
	}

	var state core.KeyState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode limiter state for %s: %w", key, err)
	}
	return &state, nil
}

func (s *SQL) Save(ctx context.Context, key string, state *core.KeyState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if state == nil {
		return errors.New("limiter state is required")
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode limiter state for %s: %w", key, err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO limiter_state (key, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, key, string(raw), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("save limiter state for %s: %w", key, err)
	}
	return nil
}

func (s *SQL) List(ctx context.Context, query Query) ([]Entry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	where := ""
	args := []any{}
	if prefix := strings.TrimSpace(query.Prefix); prefix != "" {
		where = "WHERE key LIKE ?"
		args = append(args, prefix+"%")
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, state FROM limiter_state %s ORDER BY key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list limiter state: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []Entry{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan limiter state: %w", err)
		}
		var state core.KeyState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("decode limiter state for %s: %w", key, err)
		}
		entries = append(entries, Entry{Key: key, State: &state})
	}
	return entries, rows.Err()
}

func (s *SQL) Reset(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM limiter_state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("reset limiter state for %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") || strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
