package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context, tenantID string) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, category, unit_price, unit_cost, active
		FROM items
		WHERE tenant_id = $1 AND active = true
		ORDER BY category, name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.Category, &item.UnitPrice, &item.UnitCost, &item.Active); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetItem(ctx context.Context, tenantID string, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, category, unit_price, unit_cost, active
		FROM items
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, itemID).Scan(&item.ID, &item.TenantID, &item.Name, &item.Category, &item.UnitPrice, &item.UnitCost, &item.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, tenantID string, itemIDs []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, category, unit_price, unit_cost, active
		FROM items
		WHERE tenant_id = $1 AND active = true AND id = ANY($2)
	`, tenantID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.Category, &item.UnitPrice, &item.UnitCost, &item.Active); err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, taxable
		FROM customers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, customerID).Scan(&customer.ID, &customer.TenantID, &customer.Name, &customer.Taxable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetStockLocation(ctx context.Context, tenantID string, locationID string) (*domain.StockLocation, error) {
	var location domain.StockLocation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name
		FROM stock_locations
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, locationID).Scan(&location.ID, &location.TenantID, &location.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &location, nil
}

func (s *Store) GetStock(ctx context.Context, tenantID string, itemID string, locationID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty
		FROM inventory_records
		WHERE tenant_id = $1 AND item_id = $2 AND location_id = $3
	`, tenantID, itemID, locationID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) AdjustStock(ctx context.Context, adj domain.StockAdjustment) (*domain.InventoryRecord, error) {
	if adj.TenantID == "" || adj.ItemID == "" || adj.LocationID == "" || adj.Delta == 0 {
		return nil, store.ErrInvalidSale
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	record, err := applyAdjustment(ctx, tx, adj, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

// applyAdjustment locks one inventory record, applies the delta with the
// non-negative floor, and appends the audit row. Callers own the
// surrounding transaction.
func applyAdjustment(ctx context.Context, tx *sql.Tx, adj domain.StockAdjustment, at time.Time) (*domain.InventoryRecord, error) {
	var qty int
	err := tx.QueryRowContext(ctx, `
		SELECT qty
		FROM inventory_records
		WHERE tenant_id = $1 AND item_id = $2 AND location_id = $3
		FOR UPDATE
	`, adj.TenantID, adj.ItemID, adj.LocationID).Scan(&qty)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	next := qty + adj.Delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_records (tenant_id, item_id, location_id, qty, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (tenant_id, item_id, location_id)
		DO UPDATE SET qty = inventory_records.qty + $5, updated_at = now()
	`, adj.TenantID, adj.ItemID, adj.LocationID, adj.Delta, adj.Delta)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions (id, tenant_id, item_id, location_id, actor_id, quantity_delta, reason, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, uuid.NewString(), adj.TenantID, adj.ItemID, adj.LocationID, nullIfEmpty(adj.ActorID), adj.Delta, adj.Reason, at)
	if err != nil {
		return nil, err
	}

	return &domain.InventoryRecord{
		TenantID:   adj.TenantID,
		ItemID:     adj.ItemID,
		LocationID: adj.LocationID,
		Quantity:   next,
	}, nil
}

func (s *Store) TransferStock(ctx context.Context, transfer domain.StockTransfer) error {
	if transfer.Quantity < 1 || transfer.FromLocationID == transfer.ToLocationID {
		return store.ErrInvalidSale
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := applyAdjustment(ctx, tx, domain.StockAdjustment{
		TenantID:   transfer.TenantID,
		ItemID:     transfer.ItemID,
		LocationID: transfer.FromLocationID,
		ActorID:    transfer.ActorID,
		Delta:      -transfer.Quantity,
		Reason:     transfer.Reason,
	}, now); err != nil {
		return err
	}
	if _, err := applyAdjustment(ctx, tx, domain.StockAdjustment{
		TenantID:   transfer.TenantID,
		ItemID:     transfer.ItemID,
		LocationID: transfer.ToLocationID,
		ActorID:    transfer.ActorID,
		Delta:      transfer.Quantity,
		Reason:     transfer.Reason,
	}, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListInventoryTransactions(ctx context.Context, tenantID string, itemID string, locationID string, limit int) ([]domain.InventoryTransaction, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, item_id, location_id, COALESCE(actor_id,''), quantity_delta, reason, occurred_at
		FROM inventory_transactions
		WHERE tenant_id = $1
			AND ($2 = '' OR item_id = $2)
			AND ($3 = '' OR location_id = $3)
		ORDER BY occurred_at DESC
		LIMIT $4
	`, tenantID, itemID, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.InventoryTransaction, 0, limit)
	for rows.Next() {
		var txn domain.InventoryTransaction
		if err := rows.Scan(&txn.ID, &txn.TenantID, &txn.ItemID, &txn.LocationID, &txn.ActorID, &txn.QuantityDelta, &txn.Reason, &txn.OccurredAt); err != nil {
			return nil, err
		}
		txn.OccurredAt = txn.OccurredAt.UTC()
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *Store) NextInvoiceSequence(ctx context.Context, tenantID string, day string) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (tenant_id, day, seq)
		VALUES ($1,$2,1)
		ON CONFLICT (tenant_id, day)
		DO UPDATE SET seq = invoice_counters.seq + 1
		RETURNING seq
	`, tenantID, day).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.InvoiceNumber == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if sale.SaleTime.IsZero() {
		sale.SaleTime = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusCompleted

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, tenant_id, customer_id, employee_id, invoice_number, mode,
			sale_time, status, comment, subtotal, tax, total, void_reason, voided_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULL,NULL)
	`, sale.ID, sale.TenantID, nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.EmployeeID),
		sale.InvoiceNumber, sale.Mode, sale.SaleTime, sale.Status, sale.Comment,
		sale.Subtotal, sale.Tax, sale.Total)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvoiceCollision
		}
		return nil, err
	}

	if err := insertSaleLines(ctx, tx, sale); err != nil {
		return nil, err
	}

	reason := "sale #" + sale.InvoiceNumber
	if sale.Mode == domain.SaleModeReturn {
		reason = "return #" + sale.InvoiceNumber
	}
	for _, line := range sale.Lines {
		delta := -line.Quantity
		if sale.Mode == domain.SaleModeReturn {
			delta = line.Quantity
		}
		if _, err := applyAdjustment(ctx, tx, domain.StockAdjustment{
			TenantID:   sale.TenantID,
			ItemID:     line.ItemID,
			LocationID: line.LocationID,
			ActorID:    sale.EmployeeID,
			Delta:      delta,
			Reason:     reason,
		}, sale.SaleTime); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	committed := sale
	return &committed, nil
}

func insertSaleLines(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	for i, line := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				sale_id, line_index, item_id, description, serial_number,
				location_id, qty, unit_price, unit_cost, discount_type, discount_value
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, i, line.ItemID, line.Description, nullIfEmpty(line.SerialNumber),
			line.LocationID, line.Quantity, line.UnitPrice, line.UnitCost,
			line.Discount.Type, line.Discount.Value)
		if err != nil {
			return err
		}
	}
	for i, payment := range sale.Payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, pay_index, pay_type, amount)
			VALUES ($1,$2,$3,$4)
		`, sale.ID, i, payment.Type, payment.Amount)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	var employeeID sql.NullString
	var invoiceNumber sql.NullString
	var voidReason sql.NullString
	var voidedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, customer_id, employee_id, invoice_number, mode,
			sale_time, status, comment, subtotal, tax, total, void_reason, voided_at
		FROM sales
		WHERE id = $1
	`, saleID).Scan(
		&sale.ID,
		&sale.TenantID,
		&customerID,
		&employeeID,
		&invoiceNumber,
		&sale.Mode,
		&sale.SaleTime,
		&sale.Status,
		&sale.Comment,
		&sale.Subtotal,
		&sale.Tax,
		&sale.Total,
		&voidReason,
		&voidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		sale.CustomerID = customerID.String
	}
	if employeeID.Valid {
		sale.EmployeeID = employeeID.String
	}
	if invoiceNumber.Valid {
		sale.InvoiceNumber = invoiceNumber.String
	}
	if voidReason.Valid {
		sale.VoidReason = voidReason.String
	}
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		sale.VoidedAt = &at
	}
	sale.SaleTime = sale.SaleTime.UTC()

	lines, payments, err := s.loadSaleDetail(ctx, saleID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	sale.Payments = payments

	return &sale, nil
}

func (s *Store) loadSaleDetail(ctx context.Context, saleID string) ([]domain.SaleLine, []domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_index, item_id, description, COALESCE(serial_number,''),
			location_id, qty, unit_price, unit_cost, discount_type, discount_value
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_index ASC
	`, saleID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.LineIndex, &line.ItemID, &line.Description, &line.SerialNumber,
			&line.LocationID, &line.Quantity, &line.UnitPrice, &line.UnitCost,
			&line.Discount.Type, &line.Discount.Value); err != nil {
			return nil, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	payRows, err := s.db.QueryContext(ctx, `
		SELECT pay_type, amount
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY pay_index ASC
	`, saleID)
	if err != nil {
		return nil, nil, err
	}
	defer payRows.Close()

	payments := make([]domain.Payment, 0, 2)
	for payRows.Next() {
		var payment domain.Payment
		if err := payRows.Scan(&payment.Type, &payment.Amount); err != nil {
			return nil, nil, err
		}
		payments = append(payments, payment)
	}
	if err := payRows.Err(); err != nil {
		return nil, nil, err
	}

	return lines, payments, nil
}

func (s *Store) SuspendSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if sale.SaleTime.IsZero() {
		sale.SaleTime = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusSuspended
	// Suspended sales never carry an invoice number; it is allocated at
	// resume-and-commit time.
	sale.InvoiceNumber = ""

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, tenant_id, customer_id, employee_id, invoice_number, mode,
			sale_time, status, comment, subtotal, tax, total, void_reason, voided_at
		)
		VALUES ($1,$2,$3,$4,NULL,$5,$6,$7,$8,$9,$10,$11,NULL,NULL)
	`, sale.ID, sale.TenantID, nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.EmployeeID),
		sale.Mode, sale.SaleTime, sale.Status, sale.Comment, sale.Subtotal, sale.Tax, sale.Total)
	if err != nil {
		return nil, err
	}

	if err := insertSaleLines(ctx, tx, sale); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	suspended := sale
	return &suspended, nil
}

func (s *Store) ListSuspendedSales(ctx context.Context, tenantID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM sales
		WHERE tenant_id = $1 AND status = $2
		ORDER BY sale_time ASC
	`, tenantID, domain.SaleStatusSuspended)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := s.GetSale(ctx, id)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

func (s *Store) GetSuspendedSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleStatusSuspended {
		return nil, store.ErrNotFound
	}
	return sale, nil
}

func (s *Store) ConsumeSuspendedSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleStatusSuspended {
		return nil, store.ErrSuspendedConflict
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Status guard in the DELETE is the compare-and-swap: a concurrent
	// consumer already removed or re-wrote the row and gets zero rows here.
	res, err := tx.ExecContext(ctx, `
		DELETE FROM sales
		WHERE id = $1 AND status = $2
	`, saleID, domain.SaleStatusSuspended)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrSuspendedConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) VoidSale(ctx context.Context, saleID string, reason string, actorID string, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var tenantID string
	var invoiceNumber string
	var mode string
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT tenant_id, COALESCE(invoice_number,''), mode, status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&tenantID, &invoiceNumber, &mode, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusCompleted {
		return nil, store.ErrInvalidSale
	}

	lineRows, err := tx.QueryContext(ctx, `
		SELECT item_id, location_id, qty
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_index ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	type voidLine struct {
		itemID     string
		locationID string
		qty        int
	}
	lines := make([]voidLine, 0, 8)
	for lineRows.Next() {
		var line voidLine
		if err := lineRows.Scan(&line.itemID, &line.locationID, &line.qty); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_at = $4
		WHERE id = $1 AND status = $5
	`, saleID, domain.SaleStatusCancelled, reason, at, domain.SaleStatusCompleted)
	if err != nil {
		return nil, err
	}

	// Compensating deltas reverse the original signs. Voiding a return
	// takes stock back out, so it hits the same non-negative floor.
	auditReason := "void of sale #" + invoiceNumber
	for _, line := range lines {
		delta := line.qty
		if mode == domain.SaleModeReturn {
			delta = -line.qty
		}
		if _, err := applyAdjustment(ctx, tx, domain.StockAdjustment{
			TenantID:   tenantID,
			ItemID:     line.itemID,
			LocationID: line.locationID,
			ActorID:    actorID,
			Delta:      delta,
			Reason:     auditReason,
		}, at); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetSale(ctx, saleID)
}

func (s *Store) AccrueLoyaltyPoints(ctx context.Context, entry domain.LoyaltyEntry) (int64, error) {
	if entry.CustomerID == "" || entry.Points < 1 {
		return 0, store.ErrInvalidSale
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loyalty_entries (id, tenant_id, customer_id, sale_id, points, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.TenantID, entry.CustomerID, entry.SaleID, entry.Points, entry.CreatedAt)
	if err != nil {
		return 0, err
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO loyalty_balances (tenant_id, customer_id, points, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (tenant_id, customer_id)
		DO UPDATE SET points = loyalty_balances.points + EXCLUDED.points, updated_at = now()
		RETURNING points
	`, entry.TenantID, entry.CustomerID, entry.Points).Scan(&balance)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) GetLoyaltyBalance(ctx context.Context, tenantID string, customerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT points
		FROM loyalty_balances
		WHERE tenant_id = $1 AND customer_id = $2
	`, tenantID, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func (s *Store) CreateCommission(ctx context.Context, commission domain.Commission) (*domain.Commission, error) {
	if commission.EmployeeID == "" || commission.SaleID == "" {
		return nil, store.ErrInvalidSale
	}
	if commission.ID == "" {
		commission.ID = uuid.NewString()
	}
	if commission.CreatedAt.IsZero() {
		commission.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commissions (id, tenant_id, employee_id, sale_id, commission_type, rate, amount, paid, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, commission.ID, commission.TenantID, commission.EmployeeID, commission.SaleID,
		commission.Type, commission.Rate, commission.Amount, commission.Paid, commission.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := commission
	return &created, nil
}

func (s *Store) ListCommissions(ctx context.Context, tenantID string, employeeID string, unpaidOnly bool) ([]domain.Commission, error) {
	query := `
		SELECT id, tenant_id, employee_id, sale_id, commission_type, rate, amount, paid, created_at
		FROM commissions
		WHERE tenant_id = $1
			AND ($2 = '' OR employee_id = $2)
	`
	if unpaidOnly {
		query += ` AND paid = false`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commissions := make([]domain.Commission, 0, 16)
	for rows.Next() {
		var commission domain.Commission
		if err := rows.Scan(&commission.ID, &commission.TenantID, &commission.EmployeeID, &commission.SaleID,
			&commission.Type, &commission.Rate, &commission.Amount, &commission.Paid, &commission.CreatedAt); err != nil {
			return nil, err
		}
		commission.CreatedAt = commission.CreatedAt.UTC()
		commissions = append(commissions, commission)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return commissions, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidSale
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
