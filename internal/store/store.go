package store

import (
	"context"
	"errors"
	"time"

	"tillpoint/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvoiceCollision  = errors.New("invoice number already issued")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrSuspendedConflict = errors.New("suspended sale already consumed")
)

type Repository interface {
	// Catalog and collaborator lookups consumed by the sale pipeline.
	ListItems(ctx context.Context, tenantID string) ([]domain.Item, error)
	GetItem(ctx context.Context, tenantID string, itemID string) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, tenantID string, itemIDs []string) (map[string]domain.Item, error)
	GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error)
	GetStockLocation(ctx context.Context, tenantID string, locationID string) (*domain.StockLocation, error)

	// Inventory ledger. Every record mutation appends exactly one
	// InventoryTransaction within the same storage transaction.
	GetStock(ctx context.Context, tenantID string, itemID string, locationID string) (int, error)
	AdjustStock(ctx context.Context, adj domain.StockAdjustment) (*domain.InventoryRecord, error)
	TransferStock(ctx context.Context, transfer domain.StockTransfer) error
	ListInventoryTransactions(ctx context.Context, tenantID string, itemID string, locationID string, limit int) ([]domain.InventoryTransaction, error)

	// NextInvoiceSequence atomically increments and returns the
	// per-(tenant, day) invoice counter.
	NextInvoiceSequence(ctx context.Context, tenantID string, day string) (int, error)

	// CommitSale persists header, lines, payments and the per-line
	// inventory deltas (with audit rows) as one atomic unit. It returns
	// ErrInvoiceCollision if the invoice number is already taken and
	// ErrInsufficientStock if any outgoing delta would go negative; in
	// both cases nothing is persisted.
	CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)

	SuspendSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSuspendedSales(ctx context.Context, tenantID string) ([]domain.Sale, error)
	GetSuspendedSale(ctx context.Context, saleID string) (*domain.Sale, error)
	// ConsumeSuspendedSale removes a suspended sale with a status
	// compare-and-swap; a concurrent consumer gets ErrSuspendedConflict.
	ConsumeSuspendedSale(ctx context.Context, saleID string) (*domain.Sale, error)

	// VoidSale flips completed -> cancelled and applies compensating
	// inventory adjustments, all in one atomic unit.
	VoidSale(ctx context.Context, saleID string, reason string, actorID string, at time.Time) (*domain.Sale, error)

	// Post-commit side effect records.
	AccrueLoyaltyPoints(ctx context.Context, entry domain.LoyaltyEntry) (int64, error)
	GetLoyaltyBalance(ctx context.Context, tenantID string, customerID string) (int64, error)
	CreateCommission(ctx context.Context, commission domain.Commission) (*domain.Commission, error)
	ListCommissions(ctx context.Context, tenantID string, employeeID string, unpaidOnly bool) ([]domain.Commission, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
