package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/infrastructure/monitoring"
)

type StockRepository struct {
	conn *Connection
}

func NewStockRepository(conn *Connection) *StockRepository {
	return &StockRepository{
		conn: conn,
	}
}

func (r *StockRepository) GetStock(ctx context.Context, productID string) (int64, error) {
	query := `SELECT stock FROM seckill_products WHERE product_id = $1`

	var stock int64
	row := monitoring.InstrumentQueryRow(ctx, r.conn.db, "SELECT", "seckill_products", query, productID)
	if err := row.Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domainErrors.ErrProductNotFound
		}
		return 0, err
	}

	return stock, nil
}

func (r *StockRepository) ListProductIDs(ctx context.Context) ([]string, error) {
	query := `SELECT product_id FROM seckill_products ORDER BY product_id`

	var ids []string
	err := monitoring.InstrumentQuery(ctx, r.conn.db, "SELECT", "seckill_products", query, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// SetStock creates the product or overwrites its durable stock.
func (r *StockRepository) SetStock(ctx context.Context, productID string, stock int64) error {
	query := `
		INSERT INTO seckill_products (product_id, stock, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_id) DO UPDATE SET stock = EXCLUDED.stock, updated_at = NOW()
	`

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := monitoring.InstrumentTxExec(ctx, tx, "UPSERT", "seckill_products", query, productID, stock); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *StockRepository) LockStock(ctx context.Context, productID string, fn func(stock int64) error) error {
	query := `SELECT stock FROM seckill_products WHERE product_id = $1 FOR UPDATE`

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stock int64
	row := monitoring.InstrumentTxQueryRow(ctx, tx, "SELECT", "seckill_products", query, productID)
	if err := row.Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainErrors.ErrProductNotFound
		}
		return err
	}

	if err := fn(stock); err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyGrants inserts grants, skipping any (user, product) pair already
// stored, and subtracts only the newly inserted quantities from stock.
// Rows are touched in key order so concurrent flushes lock consistently.
// A batch the database refuses on its data is reported as ErrGrantRejected.
func (r *StockRepository) ApplyGrants(ctx context.Context, grants []seckill.PurchaseGrant) (*seckill.ApplyResult, error) {
	result := &seckill.ApplyResult{StockDecrements: make(map[string]int64)}
	if len(grants) == 0 {
		return result, nil
	}

	unique := dedupeGrants(grants)

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", domainErrors.ErrDurableWriteFailure, err)
	}
	defer tx.Rollback()

	query, args := buildInsertGrants(unique)
	err = monitoring.InstrumentTxQuery(ctx, tx, "INSERT", "purchase_grants", query, func(rows *sql.Rows) error {
		var productID string
		var quantity int64
		if err := rows.Scan(&productID, &quantity); err != nil {
			return err
		}
		result.Inserted++
		result.StockDecrements[productID] += quantity
		return nil
	}, args...)
	if err != nil {
		return nil, writeFailure("insert grants", err)
	}

	result.Duplicates = len(grants) - result.Inserted

	products := make([]string, 0, len(result.StockDecrements))
	for productID := range result.StockDecrements {
		products = append(products, productID)
	}
	sort.Strings(products)

	update := `UPDATE seckill_products SET stock = stock - $2, updated_at = NOW() WHERE product_id = $1`
	for _, productID := range products {
		res, err := monitoring.InstrumentTxExec(ctx, tx, "UPDATE", "seckill_products", update,
			productID, result.StockDecrements[productID])
		if err != nil {
			return nil, writeFailure("decrement "+productID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("%w: decrement %s: %w: %w", domainErrors.ErrDurableWriteFailure, productID,
				domainErrors.ErrGrantRejected, domainErrors.ErrProductNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, writeFailure("commit", err)
	}

	return result, nil
}

// writeFailure wraps a database error, marking data and constraint
// violations as rejected grants.
func writeFailure(op string, err error) error {
	if rejectedByData(err) {
		return fmt.Errorf("%w: %s: %w: %w", domainErrors.ErrDurableWriteFailure, op, domainErrors.ErrGrantRejected, err)
	}
	return fmt.Errorf("%w: %s: %w", domainErrors.ErrDurableWriteFailure, op, err)
}

// rejectedByData reports SQLSTATE classes 22 (data exception) and 23
// (integrity constraint violation) from either driver.
func rejectedByData(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := string(pqErr.Code.Class())
		return class == "22" || class == "23"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}

	return false
}

func dedupeGrants(grants []seckill.PurchaseGrant) []seckill.PurchaseGrant {
	seen := make(map[string]bool, len(grants))
	unique := make([]seckill.PurchaseGrant, 0, len(grants))
	for _, g := range grants {
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		unique = append(unique, g)
	}

	sort.Slice(unique, func(i, j int) bool {
		if unique[i].UserID != unique[j].UserID {
			return unique[i].UserID < unique[j].UserID
		}
		return unique[i].ProductID < unique[j].ProductID
	})
	return unique
}

func buildInsertGrants(grants []seckill.PurchaseGrant) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO purchase_grants (grant_id, user_id, product_id, quantity, granted_at) VALUES ")

	args := make([]interface{}, 0, len(grants)*5)
	for i, g := range grants {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, g.ID, g.UserID, g.ProductID, g.Quantity, g.GrantedAt)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING RETURNING product_id, quantity")

	return sb.String(), args
}

func (r *StockRepository) GrantsByIDs(ctx context.Context, ids []string) ([]seckill.PurchaseGrant, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT grant_id, user_id, product_id, quantity, granted_at
		FROM purchase_grants
		WHERE grant_id = ANY($1)
		ORDER BY granted_at, grant_id
	`

	var grants []seckill.PurchaseGrant
	err := monitoring.InstrumentQuery(ctx, r.conn.db, "SELECT", "purchase_grants", query, func(rows *sql.Rows) error {
		var g seckill.PurchaseGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.ProductID, &g.Quantity, &g.GrantedAt); err != nil {
			return err
		}
		g.GrantedAt = g.GrantedAt.UTC()
		grants = append(grants, g)
		return nil
	}, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	return grants, nil
}
