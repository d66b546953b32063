package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			number, customer_id, status, total_amount, notes,
			delivered_at, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		order.Number, order.CustomerID, string(order.Status), order.TotalAmount,
		order.Notes, order.DeliveredAt, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return wrapStoreErr("insert order", err)
	}

	for i, line := range order.Lines {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_number, product_code, product_name, quantity, unit_price, position
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			line.ID, order.Number, line.ProductCode, line.ProductName,
			line.Quantity, line.UnitPrice, i,
		); err != nil {
			return wrapStoreErr("insert order line", err)
		}
	}

	if err = insertHistory(ctx, tx, order.Number, order.History); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return wrapStoreErr("commit create order", err)
	}
	return nil
}

func (r *orderRepository) Get(number string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := r.scanOrder(ctx, number)
	if err != nil {
		return domain.Order{}, err
	}

	if order.Lines, err = r.loadLines(ctx, number); err != nil {
		return domain.Order{}, err
	}
	if order.History, err = r.loadHistory(ctx, number); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) List(filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT number, customer_id, status, total_amount, notes,
		       delivered_at, version, created_at, updated_at
		FROM orders
		WHERE 1=1
	`
	args := make([]any, 0, 3)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, number DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		if order.Lines, err = r.loadLines(ctx, order.Number); err != nil {
			return nil, err
		}
		if order.History, err = r.loadHistory(ctx, order.Number); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterate order rows", err)
	}
	return orders, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    total_amount = $3,
		    notes = $4,
		    delivered_at = $5,
		    version = version + 1,
		    updated_at = $6
		WHERE number = $1
		  AND version = $7
	`,
		order.Number, string(order.Status), order.TotalAmount,
		order.Notes, order.DeliveredAt, order.UpdatedAt, order.Version,
	)
	if err != nil {
		return wrapStoreErr("update order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM orders WHERE number = $1)
		`, order.Number).Scan(&exists); err != nil {
			return wrapStoreErr("check order exists", err)
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	// История append-only: дописываем только записи сверх уже сохранённых.
	var stored int
	if err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM order_status_history WHERE order_number = $1
	`, order.Number).Scan(&stored); err != nil {
		return wrapStoreErr("count history", err)
	}
	if stored < len(order.History) {
		if err = insertHistory(ctx, tx, order.Number, order.History[stored:]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return wrapStoreErr("commit save order", err)
	}
	return nil
}

func (r *orderRepository) NextNumber(year int) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var next int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO order_sequences (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year)
		DO UPDATE SET last_value = order_sequences.last_value + 1
		RETURNING last_value
	`, year).Scan(&next)
	if err != nil {
		return 0, wrapStoreErr("next order number", err)
	}
	return next, nil
}

func (r *orderRepository) SalesSince(since time.Time, statuses []domain.OrderStatus) ([]domain.ProductSales, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT l.product_code,
		       COALESCE(SUM(l.quantity), 0),
		       COALESCE(SUM(l.quantity * l.unit_price), 0),
		       COUNT(DISTINCT o.number)
		FROM order_lines l
		JOIN orders o ON o.number = l.order_number
		WHERE 1=1
	`
	args := make([]any, 0, len(statuses)+1)
	if !since.IsZero() {
		args = append(args, since)
		query += fmt.Sprintf(" AND o.created_at >= $%d", len(args))
	}
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, status := range statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += " AND o.status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " GROUP BY l.product_code ORDER BY l.product_code ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("aggregate sales", err)
	}
	defer rows.Close()

	result := make([]domain.ProductSales, 0)
	for rows.Next() {
		var s domain.ProductSales
		if err := rows.Scan(&s.ProductCode, &s.Quantity, &s.Revenue, &s.Orders); err != nil {
			return nil, wrapStoreErr("scan sales row", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterate sales rows", err)
	}
	return result, nil
}

func (r *orderRepository) CountOpenByProduct(code string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT o.number)
		FROM orders o
		JOIN order_lines l ON l.order_number = o.number
		WHERE l.product_code = $1
		  AND o.status IN ($2, $3)
	`, code, string(domain.OrderStatusPending), string(domain.OrderStatusProcessing)).Scan(&count)
	if err != nil {
		return 0, wrapStoreErr("count open orders", err)
	}
	return count, nil
}

func (r *orderRepository) scanOrder(ctx context.Context, number string) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT number, customer_id, status, total_amount, notes,
		       delivered_at, version, created_at, updated_at
		FROM orders
		WHERE number = $1
	`, number).Scan(
		&order.Number, &order.CustomerID, &status, &order.TotalAmount, &order.Notes,
		&order.DeliveredAt, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, wrapStoreErr("select order", err)
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func scanOrderRow(rows *sql.Rows) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := rows.Scan(
		&order.Number, &order.CustomerID, &status, &order.TotalAmount, &order.Notes,
		&order.DeliveredAt, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, wrapStoreErr("scan order row", err)
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func (r *orderRepository) loadLines(ctx context.Context, number string) ([]domain.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_code, product_name, quantity, unit_price
		FROM order_lines
		WHERE order_number = $1
		ORDER BY position ASC
	`, number)
	if err != nil {
		return nil, wrapStoreErr("load order lines", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.ProductCode, &line.ProductName, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, wrapStoreErr("scan order line", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterate order lines", err)
	}
	return lines, nil
}

func (r *orderRepository) loadHistory(ctx context.Context, number string) ([]domain.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_status, to_status, note, changed_at
		FROM order_status_history
		WHERE order_number = $1
		ORDER BY changed_at ASC, id ASC
	`, number)
	if err != nil {
		return nil, wrapStoreErr("load status history", err)
	}
	defer rows.Close()

	history := make([]domain.StatusChange, 0)
	for rows.Next() {
		var (
			change   domain.StatusChange
			from, to string
		)
		if err := rows.Scan(&from, &to, &change.Note, &change.ChangedAt); err != nil {
			return nil, wrapStoreErr("scan status change", err)
		}
		change.From = domain.OrderStatus(from)
		change.To = domain.OrderStatus(to)
		history = append(history, change)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterate status history", err)
	}
	return history, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, number string, changes []domain.StatusChange) error {
	for _, change := range changes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_number, from_status, to_status, note, changed_at)
			VALUES ($1,$2,$3,$4,$5)
		`, number, string(change.From), string(change.To), change.Note, change.ChangedAt); err != nil {
			return wrapStoreErr("insert status change", err)
		}
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
