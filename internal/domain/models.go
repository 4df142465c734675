package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog entry consumed by the sale pipeline. Catalog CRUD
// itself lives behind the repository; the sale core only reads it.
type Item struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Active    bool            `json:"active"`
}

type Customer struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Taxable  bool   `json:"taxable"`
}

type StockLocation struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Discount is a tagged variant: a percentage of the line gross or a
// fixed amount capped at the line gross.
type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type CartLine struct {
	ItemID       string          `json:"item_id"`
	Description  string          `json:"description,omitempty"`
	SerialNumber string          `json:"serial_number,omitempty"`
	LocationID   string          `json:"location_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Discount     Discount        `json:"discount"`
}

type Payment struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// Cart is transient state owned by exactly one checkout session. It is
// always passed by value through the service; nothing holds it globally.
type Cart struct {
	TenantID   string     `json:"tenant_id"`
	CustomerID string     `json:"customer_id,omitempty"`
	EmployeeID string     `json:"employee_id"`
	Mode       string     `json:"mode"`
	Comment    string     `json:"comment,omitempty"`
	Lines      []CartLine `json:"lines"`
	Payments   []Payment  `json:"payments,omitempty"`
}

const (
	SaleModeSale   = "sale"
	SaleModeReturn = "return"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusSuspended = "suspended"
	SaleStatusCancelled = "cancelled"
)

type SaleLine struct {
	ItemID       string          `json:"item_id"`
	Description  string          `json:"description,omitempty"`
	SerialNumber string          `json:"serial_number,omitempty"`
	LineIndex    int             `json:"line_index"`
	Quantity     int             `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     Discount        `json:"discount"`
	LocationID   string          `json:"location_id"`
}

// Sale is created at most once and is immutable after commit except for
// the completed -> cancelled status transition performed by Void.
type Sale struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	EmployeeID    string    `json:"employee_id"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	Mode          string    `json:"mode"`
	SaleTime      time.Time `json:"sale_time"`
	Status        string    `json:"status"`
	Comment       string    `json:"comment,omitempty"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`

	VoidReason string     `json:"void_reason,omitempty"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`

	Lines    []SaleLine `json:"lines"`
	Payments []Payment  `json:"payments,omitempty"`
}

type InventoryRecord struct {
	TenantID   string `json:"tenant_id"`
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
	Quantity   int    `json:"quantity"`
}

// InventoryTransaction is the append-only audit row paired with every
// inventory record mutation. Never updated or deleted.
type InventoryTransaction struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ItemID        string    `json:"item_id"`
	LocationID    string    `json:"location_id"`
	ActorID       string    `json:"actor_id"`
	QuantityDelta int       `json:"quantity_delta"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type StockAdjustment struct {
	TenantID   string
	ItemID     string
	LocationID string
	ActorID    string
	Delta      int
	Reason     string
}

type StockTransfer struct {
	TenantID       string
	ItemID         string
	FromLocationID string
	ToLocationID   string
	ActorID        string
	Quantity       int
	Reason         string
}

type LoyaltyEntry struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	SaleID     string    `json:"sale_id"`
	Points     int64     `json:"points"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	CommissionPercentage = "percentage"
	CommissionFixed      = "fixed"
)

type Commission struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	EmployeeID string          `json:"employee_id"`
	SaleID     string          `json:"sale_id"`
	Type       string          `json:"type"`
	Rate       decimal.Decimal `json:"rate"`
	Amount     decimal.Decimal `json:"amount"`
	Paid       bool            `json:"paid"`
	CreatedAt  time.Time       `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CartLineRequest struct {
	ItemID        string           `json:"item_id"`
	LocationID    string           `json:"location_id"`
	SerialNumber  string           `json:"serial_number,omitempty"`
	Quantity      int              `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountType  string           `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
}

type PaymentRequest struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

type CommitSaleRequest struct {
	TenantID   string            `json:"tenant_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	Lines      []CartLineRequest `json:"lines"`
	Payments   []PaymentRequest  `json:"payments"`
}

type CommitSaleResponse struct {
	SaleID        string          `json:"sale_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Status        string          `json:"status"`
	Mode          string          `json:"mode"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	ChangeDue     decimal.Decimal `json:"change_due"`
	LineCount     int             `json:"line_count"`
	Warnings      []string        `json:"warnings,omitempty"`
	SaleTime      string          `json:"sale_time"`
}

type SuspendSaleRequest struct {
	TenantID   string            `json:"tenant_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	Lines      []CartLineRequest `json:"lines"`
}

type SuspendSaleResponse struct {
	SuspendedSaleID string `json:"suspended_sale_id"`
}

type ResumeSaleResponse struct {
	Cart Cart `json:"cart"`
}

type SuspendedSaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason"`
}

type VoidSaleResponse struct {
	SaleID   string `json:"sale_id"`
	Status   string `json:"status"`
	VoidedAt string `json:"voided_at"`
}

type AdjustStockRequest struct {
	TenantID   string `json:"tenant_id"`
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
	Delta      int    `json:"delta"`
	Reason     string `json:"reason"`
}

type AdjustStockResponse struct {
	Record InventoryRecord `json:"record"`
}

type TransferStockRequest struct {
	TenantID       string `json:"tenant_id"`
	ItemID         string `json:"item_id"`
	FromLocationID string `json:"from_location_id"`
	ToLocationID   string `json:"to_location_id"`
	Quantity       int    `json:"quantity"`
	Reason         string `json:"reason"`
}

type InventoryTransactionListResponse struct {
	Transactions []InventoryTransaction `json:"transactions"`
}

type LoyaltyBalanceResponse struct {
	CustomerID string `json:"customer_id"`
	Points     int64  `json:"points"`
}

type CommissionListResponse struct {
	Commissions []Commission `json:"commissions"`
}
