package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+、PostgreSQL 和 SQLite）
type Store struct {
	db         *sqlx.DB
	driverName string // "mysql" / "postgres" / "sqlite"
}

// NewStore 创建SQL数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	// 验证驱动类型
	if _, err := Schema(driverName); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	store := &Store{
		db:         db,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// DB 返回底层连接
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// keyRow 与 api_keys 表一一对应
type keyRow struct {
	ID            string       `db:"id"`
	Key           string       `db:"api_key"`
	Name          string       `db:"name"`
	Status        string       `db:"status"`
	CreatedAt     time.Time    `db:"created_at"`
	ExpiresAt     sql.NullTime `db:"expires_at"`
	MaxRequests   int          `db:"rate_limit_per_window"`
	WindowSeconds int          `db:"rate_limit_window_seconds"`
}

func keyRowFromModel(k *domain.APIKey) keyRow {
	row := keyRow{
		ID:            k.ID,
		Key:           k.Key,
		Name:          k.Name,
		Status:        string(k.Status),
		CreatedAt:     k.CreatedAt.UTC(),
		MaxRequests:   k.RateLimit.MaxRequests,
		WindowSeconds: k.RateLimit.WindowSeconds,
	}
	if k.ExpiresAt != nil {
		row.ExpiresAt = sql.NullTime{Time: k.ExpiresAt.UTC(), Valid: true}
	}
	return row
}

func (r keyRow) toModel() *domain.APIKey {
	k := &domain.APIKey{
		ID:        r.ID,
		Key:       r.Key,
		Name:      r.Name,
		Status:    domain.KeyStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		RateLimit: domain.RateLimit{
			MaxRequests:   r.MaxRequests,
			WindowSeconds: r.WindowSeconds,
		},
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time.UTC()
		k.ExpiresAt = &t
	}
	return k
}

const selectColumns = `SELECT id, api_key, name, status, created_at, expires_at,
	rate_limit_per_window, rate_limit_window_seconds FROM api_keys`

// FindByKey 根据Key字符串获取记录
func (s *Store) FindByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	return s.getOne(ctx, selectColumns+" WHERE api_key = ?", key)
}

// FindByName 根据名称获取记录
func (s *Store) FindByName(ctx context.Context, name string) (*domain.APIKey, error) {
	return s.getOne(ctx, selectColumns+" WHERE name = ?", name)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (*domain.APIKey, error) {
	var row keyRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return row.toModel(), nil
}

// ListAPIKeys 按创建时间倒序列出所有记录
func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, selectColumns+" ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]*domain.APIKey, len(rows))
	for i, r := range rows {
		keys[i] = r.toModel()
	}
	return keys, nil
}

const insertKey = `INSERT INTO api_keys
	(id, api_key, name, status, created_at, expires_at, rate_limit_per_window, rate_limit_window_seconds)
	VALUES
	(:id, :api_key, :name, :status, :created_at, :expires_at, :rate_limit_per_window, :rate_limit_window_seconds)`

const upsertSuffix = ` ON CONFLICT (id) DO UPDATE SET
	api_key = excluded.api_key,
	name = excluded.name,
	status = excluded.status,
	expires_at = excluded.expires_at,
	rate_limit_per_window = excluded.rate_limit_per_window,
	rate_limit_window_seconds = excluded.rate_limit_window_seconds`

const updateKey = `UPDATE api_keys SET
	api_key = :api_key,
	name = :name,
	status = :status,
	expires_at = :expires_at,
	rate_limit_per_window = :rate_limit_per_window,
	rate_limit_window_seconds = :rate_limit_window_seconds
	WHERE id = :id`

// Save 按主键插入或更新
func (s *Store) Save(ctx context.Context, apiKey *domain.APIKey) (*domain.APIKey, error) {
	record := apiKey.Clone()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	row := keyRowFromModel(record)

	var err error
	if s.driverName == "mysql" {
		// MySQL 的 ON DUPLICATE KEY 会被任意唯一索引触发，只能先查后写
		err = s.saveInTx(ctx, row)
	} else {
		_, err = s.db.NamedExecContext(ctx, insertKey+upsertSuffix, row)
	}
	if err != nil {
		if dupErr := s.classifyConflict(ctx, record); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("save api key: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) saveInTx(ctx context.Context, row keyRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.GetContext(ctx, &count, tx.Rebind("SELECT COUNT(*) FROM api_keys WHERE id = ?"), row.ID); err != nil {
		return err
	}
	query := insertKey
	if count > 0 {
		query = updateKey
	}
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return err
	}
	return tx.Commit()
}

// classifyConflict 写入失败后判断是否为唯一约束冲突
func (s *Store) classifyConflict(ctx context.Context, record *domain.APIKey) error {
	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM api_keys WHERE name = ? AND id <> ?")
	if err := s.db.GetContext(ctx, &count, q, record.Name, record.ID); err == nil && count > 0 {
		return storage.ErrKeyNameExists
	}
	q = s.db.Rebind("SELECT COUNT(*) FROM api_keys WHERE api_key = ? AND id <> ?")
	if err := s.db.GetContext(ctx, &count, q, record.Key, record.ID); err == nil && count > 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}
