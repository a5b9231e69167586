package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

// Dialect captures what differs between the SQL backends of stock records.
type Dialect struct {
	Name        string
	schema      string
	isDuplicate func(error) bool
}

var (
	MySQLDialect = Dialect{
		Name: "mysql",
		schema: `
		CREATE TABLE IF NOT EXISTS stock_records (
			id                  VARCHAR(64) NOT NULL PRIMARY KEY,
			product_id          VARCHAR(128) NOT NULL,
			store_id            VARCHAR(128) NOT NULL,
			current_stock       INT NOT NULL,
			reserved_stock      INT NOT NULL,
			minimum_stock_level INT NOT NULL,
			maximum_stock_level INT NULL,
			version             BIGINT NOT NULL,
			last_updated        DATETIME(6) NOT NULL,
			UNIQUE KEY uk_stock_product_store (product_id, store_id),
			KEY idx_stock_store (store_id)
		)`,
		isDuplicate: func(err error) bool {
			var me *mysql.MySQLError
			return errors.As(err, &me) && me.Number == 1062
		},
	}

	SQLiteDialect = Dialect{
		Name: "sqlite3",
		schema: `
		CREATE TABLE IF NOT EXISTS stock_records (
			id                  TEXT NOT NULL PRIMARY KEY,
			product_id          TEXT NOT NULL,
			store_id            TEXT NOT NULL,
			current_stock       INTEGER NOT NULL,
			reserved_stock      INTEGER NOT NULL,
			minimum_stock_level INTEGER NOT NULL,
			maximum_stock_level INTEGER NULL,
			version             INTEGER NOT NULL,
			last_updated        DATETIME NOT NULL,
			CONSTRAINT uk_stock_product_store UNIQUE (product_id, store_id)
		)`,
		isDuplicate: func(err error) bool {
			var se sqlite3.Error
			return errors.As(err, &se) &&
				(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
		},
	}
)

const stockColumns = `id, product_id, store_id, current_stock, reserved_stock,
	minimum_stock_level, maximum_stock_level, version, last_updated`

// SQLStockRepository stores stock records in MySQL or SQLite. The version
// column guards every update.
type SQLStockRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStockRepository(db *sql.DB, dialect Dialect) *SQLStockRepository {
	return &SQLStockRepository{db: db, dialect: dialect}
}

// EnsureSchema creates the stock table when missing.
func (r *SQLStockRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, r.dialect.schema)
	return errors.Wrapf(err, "create %s schema", r.dialect.Name)
}

func (r *SQLStockRepository) Find(ctx context.Context, productID, storeID string) (*domain.StockRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_records WHERE product_id = ? AND store_id = ?`, productID, storeID)
	return scanStockRow(row)
}

func (r *SQLStockRepository) FindByID(ctx context.Context, id string) (*domain.StockRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_records WHERE id = ?`, id)
	return scanStockRow(row)
}

func (r *SQLStockRepository) Create(ctx context.Context, rec domain.StockRecord) (domain.StockRecord, error) {
	rec.LastUpdated = rec.LastUpdated.UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_records (`+stockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProductID, rec.StoreID, rec.CurrentStock, rec.ReservedStock,
		rec.MinimumStockLevel, nullableInt(rec.MaximumStockLevel), rec.Version, rec.LastUpdated,
	)
	if err != nil {
		if r.dialect.isDuplicate(err) {
			return domain.StockRecord{}, errors.Wrapf(domain.ErrAlreadyExists, "product %s store %s", rec.ProductID, rec.StoreID)
		}
		return domain.StockRecord{}, errors.Wrap(err, "insert stock record")
	}
	return rec, nil
}

func (r *SQLStockRepository) ConditionalSave(ctx context.Context, rec domain.StockRecord, expectedVersion int64) (domain.StockRecord, error) {
	rec.LastUpdated = rec.LastUpdated.UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE stock_records
		SET current_stock = ?, reserved_stock = ?, minimum_stock_level = ?,
			maximum_stock_level = ?, version = ?, last_updated = ?
		WHERE product_id = ? AND store_id = ? AND version = ?`,
		rec.CurrentStock, rec.ReservedStock, rec.MinimumStockLevel,
		nullableInt(rec.MaximumStockLevel), rec.Version, rec.LastUpdated,
		rec.ProductID, rec.StoreID, expectedVersion,
	)
	if err != nil {
		return domain.StockRecord{}, errors.Wrap(err, "update stock record")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.StockRecord{}, errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return domain.StockRecord{}, r.conflict(ctx, rec.ProductID, rec.StoreID, expectedVersion)
	}
	return rec, nil
}

func (r *SQLStockRepository) List(ctx context.Context) ([]domain.StockRecord, error) {
	return r.query(ctx, `SELECT `+stockColumns+` FROM stock_records ORDER BY product_id, store_id`)
}

func (r *SQLStockRepository) ListByProduct(ctx context.Context, productID string) ([]domain.StockRecord, error) {
	return r.query(ctx, `SELECT `+stockColumns+` FROM stock_records WHERE product_id = ? ORDER BY store_id`, productID)
}

func (r *SQLStockRepository) ListByStore(ctx context.Context, storeID string) ([]domain.StockRecord, error) {
	return r.query(ctx, `SELECT `+stockColumns+` FROM stock_records WHERE store_id = ? ORDER BY product_id`, storeID)
}

func (r *SQLStockRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM stock_records WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete stock record")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(domain.ErrStockNotFound, "stock %s", id)
	}
	return nil
}

// conflict reads the stored version so the caller can report it.
func (r *SQLStockRepository) conflict(ctx context.Context, productID, storeID string, expected int64) error {
	var actual int64
	err := r.db.QueryRowContext(ctx, `
		SELECT version FROM stock_records WHERE product_id = ? AND store_id = ?`,
		productID, storeID,
	).Scan(&actual)
	if err != nil {
		actual = -1
	}
	return &domain.VersionConflictError{Expected: expected, Actual: actual}
}

func (r *SQLStockRepository) query(ctx context.Context, query string, args ...any) ([]domain.StockRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query stock records")
	}
	defer rows.Close()

	out := []domain.StockRecord{}
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate stock records")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStockRow(row *sql.Row) (*domain.StockRecord, error) {
	rec, err := scanStock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanStock(s scanner) (domain.StockRecord, error) {
	var (
		rec      domain.StockRecord
		maxLevel sql.NullInt64
		updated  time.Time
	)
	err := s.Scan(&rec.ID, &rec.ProductID, &rec.StoreID, &rec.CurrentStock, &rec.ReservedStock,
		&rec.MinimumStockLevel, &maxLevel, &rec.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockRecord{}, err
	}
	if err != nil {
		return domain.StockRecord{}, errors.Wrap(err, "scan stock record")
	}
	if maxLevel.Valid {
		rec.MaximumStockLevel = domain.IntPtr(int(maxLevel.Int64))
	}
	rec.LastUpdated = updated.UTC()
	return rec, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
