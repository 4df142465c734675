package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/cart"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/invoice"
	"tillpoint/backend/internal/loyalty"
	"tillpoint/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// invoiceRetryLimit bounds how often a commit re-allocates after losing
// an invoice-number race. The final attempt carries a random suffix so
// the register never wedges on a hot counter.
const invoiceRetryLimit = 5

const itemCacheTTL = 5 * time.Minute

type Service struct {
	repo            store.Repository
	agg             *cart.Aggregator
	allocator       *invoice.Allocator
	hooks           *loyalty.Hooks
	itemCache       cache.ItemCache
	defaultTenantID string
}

func New(repo store.Repository, agg *cart.Aggregator, allocator *invoice.Allocator, hooks *loyalty.Hooks, itemCache cache.ItemCache, defaultTenantID string) *Service {
	if defaultTenantID == "" {
		defaultTenantID = "tenant-alpha"
	}
	if itemCache == nil {
		itemCache = cache.NoopItemCache{}
	}

	return &Service{
		repo:            repo,
		agg:             agg,
		allocator:       allocator,
		hooks:           hooks,
		itemCache:       itemCache,
		defaultTenantID: defaultTenantID,
	}
}

func (s *Service) ListItems(ctx context.Context, tenantID string) ([]domain.Item, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	return s.repo.ListItems(ctx, tenantID)
}

func (s *Service) lookupItem(ctx context.Context, tenantID string, itemID string) (*domain.Item, error) {
	key := "item:" + tenantID + ":" + itemID
	if cached, hit, err := s.itemCache.Get(ctx, key); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: item cache read failed key=%s: %v", key, err)
	}

	item, err := s.repo.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.itemCache.Set(ctx, key, item, itemCacheTTL); err != nil {
		log.Printf("[service] WARN: item cache write failed key=%s: %v", key, err)
	}
	return item, nil
}

// buildCart resolves catalog snapshots for every requested line and
// returns the cart plus the customer's taxable flag. Walk-in customers
// (empty customer ID) are taxable.
func (s *Service) buildCart(ctx context.Context, tenantID string, customerID string, mode string, comment string, lines []domain.CartLineRequest, payments []domain.PaymentRequest) (domain.Cart, bool, error) {
	if mode == "" {
		mode = domain.SaleModeSale
	}
	if mode != domain.SaleModeSale && mode != domain.SaleModeReturn {
		return domain.Cart{}, false, fmt.Errorf("unknown sale mode %q", mode)
	}
	if len(lines) == 0 {
		return domain.Cart{}, false, cart.ErrEmptyCart
	}

	taxable := true
	if customerID != "" {
		customer, err := s.repo.GetCustomer(ctx, tenantID, customerID)
		if err != nil {
			return domain.Cart{}, false, err
		}
		taxable = customer.Taxable
	}

	actor, _ := ActorFromContext(ctx)

	c := domain.Cart{
		TenantID:   tenantID,
		CustomerID: customerID,
		EmployeeID: actor.Username,
		Mode:       mode,
		Comment:    strings.TrimSpace(comment),
		Lines:      make([]domain.CartLine, 0, len(lines)),
		Payments:   make([]domain.Payment, 0, len(payments)),
	}

	for _, req := range lines {
		item, err := s.lookupItem(ctx, tenantID, req.ItemID)
		if err != nil {
			return domain.Cart{}, false, err
		}
		if _, err := s.repo.GetStockLocation(ctx, tenantID, req.LocationID); err != nil {
			return domain.Cart{}, false, err
		}

		unitPrice := item.UnitPrice
		if req.UnitPrice != nil {
			unitPrice = *req.UnitPrice
		}
		line, err := cart.NewLine(req.ItemID, req.LocationID, req.SerialNumber, req.Quantity, unitPrice, domain.Discount{
			Type:  domain.DiscountType(req.DiscountType),
			Value: req.DiscountValue,
		})
		if err != nil {
			return domain.Cart{}, false, err
		}
		line.Description = item.Name
		line.UnitCost = item.UnitCost
		c.Lines = append(c.Lines, line)
	}

	for _, p := range payments {
		if p.Amount.IsNegative() {
			return domain.Cart{}, false, cart.ErrInsufficientPayment
		}
		c.Payments = append(c.Payments, domain.Payment{Type: p.Type, Amount: p.Amount})
	}

	return c, taxable, nil
}

func saleLinesFromCart(c domain.Cart) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(c.Lines))
	for i, line := range c.Lines {
		lines = append(lines, domain.SaleLine{
			ItemID:       line.ItemID,
			Description:  line.Description,
			SerialNumber: line.SerialNumber,
			LineIndex:    i,
			Quantity:     line.Quantity,
			UnitCost:     line.UnitCost,
			UnitPrice:    line.UnitPrice,
			Discount:     line.Discount,
			LocationID:   line.LocationID,
		})
	}
	return lines
}

func (s *Service) Commit(ctx context.Context, req domain.CommitSaleRequest) (domain.CommitSaleResponse, error) {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}

	c, taxable, err := s.buildCart(ctx, req.TenantID, req.CustomerID, req.Mode, req.Comment, req.Lines, req.Payments)
	if err != nil {
		return domain.CommitSaleResponse{}, err
	}
	if err := s.agg.Validate(c, taxable); err != nil {
		return domain.CommitSaleResponse{}, err
	}

	subtotal := s.agg.Subtotal(c)
	tax := s.agg.Tax(c, taxable)
	total := s.agg.Total(c, taxable)

	sale := domain.Sale{
		ID:         uuid.NewString(),
		TenantID:   c.TenantID,
		CustomerID: c.CustomerID,
		EmployeeID: c.EmployeeID,
		Mode:       c.Mode,
		SaleTime:   time.Now().UTC(),
		Comment:    c.Comment,
		Subtotal:   subtotal,
		Tax:        tax,
		Total:      total,
		Lines:      saleLinesFromCart(c),
		Payments:   c.Payments,
	}

	var committed *domain.Sale
	for attempt := 1; attempt <= invoiceRetryLimit; attempt++ {
		number, err := s.allocator.Allocate(ctx, sale.TenantID)
		if err != nil {
			return domain.CommitSaleResponse{}, err
		}
		if attempt == invoiceRetryLimit {
			number = invoice.WithRandomSuffix(number)
		}
		sale.InvoiceNumber = number

		committed, err = s.repo.CommitSale(ctx, sale)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrInvoiceCollision) && attempt < invoiceRetryLimit {
			log.Printf("[service] WARN: invoice collision on %s, retrying (%d/%d)", number, attempt, invoiceRetryLimit)
			continue
		}
		return domain.CommitSaleResponse{}, err
	}

	warnings := s.hooks.Run(ctx, *committed)

	paid := decimal.Zero
	for _, p := range committed.Payments {
		paid = paid.Add(p.Amount)
	}
	changeDue := paid.Sub(total)
	if changeDue.IsNegative() {
		changeDue = decimal.Zero
	}

	return domain.CommitSaleResponse{
		SaleID:        committed.ID,
		InvoiceNumber: committed.InvoiceNumber,
		Status:        committed.Status,
		Mode:          committed.Mode,
		Subtotal:      subtotal.Round(2),
		Tax:           tax.Round(2),
		Total:         total.Round(2),
		ChangeDue:     changeDue.Round(2),
		LineCount:     len(committed.Lines),
		Warnings:      warnings,
		SaleTime:      committed.SaleTime.Format(time.RFC3339),
	}, nil
}

// Suspend parks a cart without an invoice number, payments or inventory
// movement. Totals are stored for list display only and are recomputed
// at resume time.
func (s *Service) Suspend(ctx context.Context, req domain.SuspendSaleRequest) (domain.SuspendSaleResponse, error) {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}

	c, taxable, err := s.buildCart(ctx, req.TenantID, req.CustomerID, req.Mode, req.Comment, req.Lines, nil)
	if err != nil {
		return domain.SuspendSaleResponse{}, err
	}

	sale := domain.Sale{
		ID:         uuid.NewString(),
		TenantID:   c.TenantID,
		CustomerID: c.CustomerID,
		EmployeeID: c.EmployeeID,
		Mode:       c.Mode,
		SaleTime:   time.Now().UTC(),
		Comment:    c.Comment,
		Subtotal:   s.agg.Subtotal(c),
		Tax:        s.agg.Tax(c, taxable),
		Total:      s.agg.Total(c, taxable),
		Lines:      saleLinesFromCart(c),
	}

	suspended, err := s.repo.SuspendSale(ctx, sale)
	if err != nil {
		return domain.SuspendSaleResponse{}, err
	}
	return domain.SuspendSaleResponse{SuspendedSaleID: suspended.ID}, nil
}

func (s *Service) ListSuspendedSales(ctx context.Context, tenantID string) (domain.SuspendedSaleListResponse, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	sales, err := s.repo.ListSuspendedSales(ctx, tenantID)
	if err != nil {
		return domain.SuspendedSaleListResponse{}, err
	}
	return domain.SuspendedSaleListResponse{Sales: sales}, nil
}

func (s *Service) GetSuspendedSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.repo.GetSuspendedSale(ctx, saleID)
}

// Resume consumes a suspended sale and rebuilds the working cart.
// Display fields are rehydrated from the current catalog; the price,
// discount and quantity captured at suspend time are kept.
func (s *Service) Resume(ctx context.Context, saleID string) (domain.ResumeSaleResponse, error) {
	sale, err := s.repo.ConsumeSuspendedSale(ctx, saleID)
	if err != nil {
		return domain.ResumeSaleResponse{}, err
	}

	c := domain.Cart{
		TenantID:   sale.TenantID,
		CustomerID: sale.CustomerID,
		EmployeeID: sale.EmployeeID,
		Mode:       sale.Mode,
		Comment:    sale.Comment,
		Lines:      make([]domain.CartLine, 0, len(sale.Lines)),
	}
	for _, line := range sale.Lines {
		description := line.Description
		if item, err := s.lookupItem(ctx, sale.TenantID, line.ItemID); err == nil {
			description = item.Name
		}
		c.Lines = append(c.Lines, domain.CartLine{
			ItemID:       line.ItemID,
			Description:  description,
			SerialNumber: line.SerialNumber,
			LocationID:   line.LocationID,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			UnitCost:     line.UnitCost,
			Discount:     line.Discount,
		})
	}

	return domain.ResumeSaleResponse{Cart: c}, nil
}

// Discard drops a suspended sale without committing it.
func (s *Service) Discard(ctx context.Context, saleID string) error {
	_, err := s.repo.ConsumeSuspendedSale(ctx, saleID)
	return err
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.repo.GetSale(ctx, saleID)
}

func (s *Service) Void(ctx context.Context, saleID string, req domain.VoidSaleRequest) (domain.VoidSaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "manager" {
		return domain.VoidSaleResponse{}, fmt.Errorf("manager role required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.VoidSaleResponse{}, store.ErrInvalidSale
	}

	voided, err := s.repo.VoidSale(ctx, saleID, reason, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.VoidSaleResponse{}, err
	}

	resp := domain.VoidSaleResponse{
		SaleID: voided.ID,
		Status: voided.Status,
	}
	if voided.VoidedAt != nil {
		resp.VoidedAt = voided.VoidedAt.Format(time.RFC3339)
	}
	return resp, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustStockRequest) (domain.AdjustStockResponse, error) {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	if req.Delta == 0 || strings.TrimSpace(req.Reason) == "" {
		return domain.AdjustStockResponse{}, store.ErrInvalidSale
	}
	if _, err := s.lookupItem(ctx, req.TenantID, req.ItemID); err != nil {
		return domain.AdjustStockResponse{}, err
	}
	if _, err := s.repo.GetStockLocation(ctx, req.TenantID, req.LocationID); err != nil {
		return domain.AdjustStockResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	record, err := s.repo.AdjustStock(ctx, domain.StockAdjustment{
		TenantID:   req.TenantID,
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		ActorID:    actor.Username,
		Delta:      req.Delta,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return domain.AdjustStockResponse{}, err
	}
	return domain.AdjustStockResponse{Record: *record}, nil
}

func (s *Service) TransferStock(ctx context.Context, req domain.TransferStockRequest) error {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	if req.Quantity < 1 || req.FromLocationID == req.ToLocationID {
		return store.ErrInvalidSale
	}
	if _, err := s.lookupItem(ctx, req.TenantID, req.ItemID); err != nil {
		return err
	}
	for _, locationID := range []string{req.FromLocationID, req.ToLocationID} {
		if _, err := s.repo.GetStockLocation(ctx, req.TenantID, locationID); err != nil {
			return err
		}
	}

	actor, _ := ActorFromContext(ctx)
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "transfer " + req.FromLocationID + " -> " + req.ToLocationID
	}
	return s.repo.TransferStock(ctx, domain.StockTransfer{
		TenantID:       req.TenantID,
		ItemID:         req.ItemID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		ActorID:        actor.Username,
		Quantity:       req.Quantity,
		Reason:         reason,
	})
}

func (s *Service) ListInventoryTransactions(ctx context.Context, tenantID string, itemID string, locationID string, limit int) (domain.InventoryTransactionListResponse, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	transactions, err := s.repo.ListInventoryTransactions(ctx, tenantID, itemID, locationID, limit)
	if err != nil {
		return domain.InventoryTransactionListResponse{}, err
	}
	return domain.InventoryTransactionListResponse{Transactions: transactions}, nil
}

func (s *Service) GetStock(ctx context.Context, tenantID string, itemID string, locationID string) (int, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	return s.repo.GetStock(ctx, tenantID, itemID, locationID)
}

func (s *Service) LoyaltyBalance(ctx context.Context, tenantID string, customerID string) (domain.LoyaltyBalanceResponse, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	if customerID == "" {
		return domain.LoyaltyBalanceResponse{}, store.ErrInvalidSale
	}
	if _, err := s.repo.GetCustomer(ctx, tenantID, customerID); err != nil {
		return domain.LoyaltyBalanceResponse{}, err
	}
	points, err := s.repo.GetLoyaltyBalance(ctx, tenantID, customerID)
	if err != nil {
		return domain.LoyaltyBalanceResponse{}, err
	}
	return domain.LoyaltyBalanceResponse{CustomerID: customerID, Points: points}, nil
}

func (s *Service) ListCommissions(ctx context.Context, tenantID string, employeeID string, unpaidOnly bool) (domain.CommissionListResponse, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	commissions, err := s.repo.ListCommissions(ctx, tenantID, employeeID, unpaidOnly)
	if err != nil {
		return domain.CommissionListResponse{}, err
	}
	return domain.CommissionListResponse{Commissions: commissions}, nil
}
