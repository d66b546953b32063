package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
// Guarded-операции со стоком выполняются условным UPDATE: проверка остатка
// и запись происходят в одном statement, read-then-write здесь нет.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(p domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (
			code, name, category, price, stock_quantity, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		p.Code, p.Name, string(p.Category), p.Price,
		p.StockQuantity, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductExists
		}
		return wrapStoreErr("insert product", err)
	}
	return nil
}

func (r *productRepository) Get(code string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		p        domain.Product
		category string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT code, name, category, price, stock_quantity, active, created_at, updated_at
		FROM products
		WHERE code = $1
	`, code).Scan(
		&p.Code, &p.Name, &category, &p.Price,
		&p.StockQuantity, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, wrapStoreErr("select product", err)
	}
	p.Category = domain.ProductCategory(category)
	return p, nil
}

func (r *productRepository) List(filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT code, name, category, price, stock_quantity, active, created_at, updated_at
		FROM products
		WHERE 1=1
	`
	args := make([]any, 0, 2)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.OnlyActive {
		query += " AND active"
	}
	if filter.InStockOnly {
		query += " AND stock_quantity > 0"
	}
	query += " ORDER BY code ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var (
			p        domain.Product
			category string
		)
		if err := rows.Scan(
			&p.Code, &p.Name, &category, &p.Price,
			&p.StockQuantity, &p.Active, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, wrapStoreErr("scan product row", err)
		}
		p.Category = domain.ProductCategory(category)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterate product rows", err)
	}
	return products, nil
}

func (r *productRepository) Update(p domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Остаток намеренно не трогаем: stock меняют только guarded-операции.
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2,
		    category = $3,
		    price = $4,
		    active = $5,
		    updated_at = $6
		WHERE code = $1
	`, p.Code, p.Name, string(p.Category), p.Price, p.Active, p.UpdatedAt)
	if err != nil {
		return wrapStoreErr("update product", err)
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) SoftDelete(code string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products SET active = FALSE, updated_at = NOW() WHERE code = $1
	`, code)
	if err != nil {
		return wrapStoreErr("soft delete product", err)
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) HardDelete(code string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE code = $1`, code)
	if err != nil {
		return wrapStoreErr("hard delete product", err)
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) DecrementStock(code string, qty int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var remaining int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2,
		    updated_at = NOW()
		WHERE code = $1
		  AND stock_quantity >= $2
		RETURNING stock_quantity
	`, code, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrapStoreErr("decrement stock", err)
	}

	// UPDATE никого не задел: либо товара нет, либо остатка не хватает.
	available, checkErr := r.currentStock(ctx, code)
	if checkErr != nil {
		return 0, checkErr
	}
	return available, &domain.InsufficientStockError{
		Code:      code,
		Requested: qty,
		Available: available,
	}
}

func (r *productRepository) DecrementStockClamped(code string, qty int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var remaining int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = GREATEST(stock_quantity - $2, 0),
		    updated_at = NOW()
		WHERE code = $1
		RETURNING stock_quantity
	`, code, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, wrapStoreErr("decrement stock clamped", err)
	}
	return remaining, nil
}

func (r *productRepository) IncrementStock(code string, qty int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var remaining int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    updated_at = NOW()
		WHERE code = $1
		RETURNING stock_quantity
	`, code, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, wrapStoreErr("increment stock", err)
	}
	return remaining, nil
}

func (r *productRepository) SetStock(code string, qty int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var remaining int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = $2,
		    updated_at = NOW()
		WHERE code = $1
		RETURNING stock_quantity
	`, code, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, wrapStoreErr("set stock", err)
	}
	return remaining, nil
}

func (r *productRepository) currentStock(ctx context.Context, code string) (int, error) {
	var stock int
	err := r.db.QueryRowContext(ctx, `
		SELECT stock_quantity FROM products WHERE code = $1
	`, code).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, wrapStoreErr("select stock", err)
	}
	return stock, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// wrapStoreErr переводит протухший дедлайн в ErrStoreTimeout: для вызывающего
// кода это транзиентная ошибка, которую можно ретраить.
func wrapStoreErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, domain.ErrStoreTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.ProductRepository = (*productRepository)(nil)
