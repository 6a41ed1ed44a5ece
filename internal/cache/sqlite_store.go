package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DatabaseFile 是 sqlite 后端在 StoragePath 下使用的文件名。
const DatabaseFile = "offline-hub.db"

const createSchema = `
CREATE TABLE IF NOT EXISTS namespaces (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	namespace TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	payload BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, cache_key)
);
`

// SQLiteStore 将全部分区保存在单个 SQLite 文件中，条目以 HTTP 报文格式存放在 payload 列。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 在 basePath 目录下打开（或创建）数据库；basePath 为 ":memory:" 时使用内存库。
func NewSQLiteStore(basePath string) (*SQLiteStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	dsn := basePath
	if basePath != ":memory:" {
		abs, err := filepath.Abs(basePath)
		if err != nil {
			return nil, fmt.Errorf("resolve storage path: %w", err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		dsn = filepath.Join(abs, DatabaseFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// 单连接串行化写入，同时保证 :memory: 库在连接间可见。
	db.SetMaxOpenConns(1)

	if basePath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.Exec(createSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Open(ctx context.Context, name string) (Namespace, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO namespaces (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("open namespace %s: %w", name, err)
	}
	return &sqliteNamespace{db: s.db, name: name}, nil
}

func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete namespace %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE namespace = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteNamespace struct {
	db   *sql.DB
	name string
}

func (n *sqliteNamespace) Name() string {
	return n.name
}

func (n *sqliteNamespace) Put(ctx context.Context, key Key, resp *Response) error {
	if err := key.validate(); err != nil {
		return err
	}
	if resp == nil {
		return errors.New("cache response required")
	}
	res, err := n.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (namespace, cache_key, payload, stored_at)
		 SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM namespaces WHERE name = ?)`,
		n.name, key.String(), encodeResponse(resp), time.Now().UnixMilli(), n.name,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNamespaceGone, n.name)
	}
	return nil
}

func (n *sqliteNamespace) Match(ctx context.Context, key Key) (*Response, error) {
	var payload []byte
	err := n.db.QueryRowContext(ctx,
		`SELECT payload FROM entries WHERE namespace = ? AND cache_key = ?`,
		n.name, key.String(),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache match: %w", err)
	}
	return decodeResponse(payload)
}
