package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
)

// Store is the in-memory repository used by tests and dev mode. A single
// mutex serializes all mutations, which makes every write path (including
// the multi-record sale commit) atomic by construction.
type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	customers       map[string]domain.Customer
	locations       map[string]domain.StockLocation
	inventory       map[string]int
	inventoryTrail  []domain.InventoryTransaction
	invoiceSeq      map[string]int
	invoiceNumbers  map[string]struct{}
	salesByID       map[string]*domain.Sale
	loyaltyBalances map[string]int64
	loyaltyEntries  []domain.LoyaltyEntry
	commissionsByID map[string]domain.Commission
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD;
// hardcoded dev defaults are used (with a warning) when unset. Production
// deployments use PostgreSQL and never touch these.
func seedUsers() map[string]domain.UserAccount {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"manager", managerPwd, "manager"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const seedTenant = "tenant-alpha"

func NewSeeded() *Store {
	price := decimal.RequireFromString
	items := []domain.Item{
		{ID: "item-coffee-beans", TenantID: seedTenant, Name: "Coffee Beans 1kg", Category: "beverage", UnitPrice: price("18.90"), UnitCost: price("12.00"), Active: true},
		{ID: "item-mug", TenantID: seedTenant, Name: "Ceramic Mug", Category: "kitchen", UnitPrice: price("7.50"), UnitCost: price("3.80"), Active: true},
		{ID: "item-grinder", TenantID: seedTenant, Name: "Burr Grinder", Category: "appliance", UnitPrice: price("64.99"), UnitCost: price("41.00"), Active: true},
		{ID: "item-filter", TenantID: seedTenant, Name: "Paper Filters 100pk", Category: "kitchen", UnitPrice: price("4.25"), UnitCost: price("2.10"), Active: true},
		{ID: "item-kettle", TenantID: seedTenant, Name: "Gooseneck Kettle", Category: "appliance", UnitPrice: price("29.99"), UnitCost: price("17.50"), Active: true},
	}

	customers := []domain.Customer{
		{ID: "cust-retail", TenantID: seedTenant, Name: "Dana Retail", Taxable: true},
		{ID: "cust-wholesale", TenantID: seedTenant, Name: "Bulk Supplies Co", Taxable: false},
	}

	locations := []domain.StockLocation{
		{ID: "loc-front", TenantID: seedTenant, Name: "Front of House"},
		{ID: "loc-back", TenantID: seedTenant, Name: "Stockroom"},
	}

	itemMap := make(map[string]domain.Item, len(items))
	inventory := make(map[string]int)
	for _, item := range items {
		itemMap[item.ID] = item
		inventory[stockKey(seedTenant, item.ID, "loc-front")] = 100
		inventory[stockKey(seedTenant, item.ID, "loc-back")] = 40
	}

	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}
	locationMap := make(map[string]domain.StockLocation, len(locations))
	for _, l := range locations {
		locationMap[l.ID] = l
	}

	return &Store{
		items:           itemMap,
		customers:       customerMap,
		locations:       locationMap,
		inventory:       inventory,
		inventoryTrail:  make([]domain.InventoryTransaction, 0, 128),
		invoiceSeq:      make(map[string]int),
		invoiceNumbers:  make(map[string]struct{}),
		salesByID:       make(map[string]*domain.Sale),
		loyaltyBalances: make(map[string]int64),
		loyaltyEntries:  make([]domain.LoyaltyEntry, 0, 64),
		commissionsByID: make(map[string]domain.Commission),
		usersByUsername: seedUsers(),
	}
}

func stockKey(tenantID string, itemID string, locationID string) string {
	return tenantID + "|" + itemID + "|" + locationID
}

func invoiceKey(tenantID string, invoiceNumber string) string {
	return tenantID + "|" + invoiceNumber
}

func (s *Store) ListItems(_ context.Context, tenantID string) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if item.TenantID != tenantID || !item.Active {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, tenantID string, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[itemID]
	if !exists || item.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, tenantID string, itemIDs []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(itemIDs))
	for _, id := range itemIDs {
		item, exists := s.items[id]
		if !exists || item.TenantID != tenantID || !item.Active {
			continue
		}
		result[id] = item
	}
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[customerID]
	if !exists || customer.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copied := customer
	return &copied, nil
}

func (s *Store) GetStockLocation(_ context.Context, tenantID string, locationID string) (*domain.StockLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	location, exists := s.locations[locationID]
	if !exists || location.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copied := location
	return &copied, nil
}

func (s *Store) GetStock(_ context.Context, tenantID string, itemID string, locationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory[stockKey(tenantID, itemID, locationID)], nil
}

func (s *Store) AdjustStock(_ context.Context, adj domain.StockAdjustment) (*domain.InventoryRecord, error) {
	if adj.TenantID == "" || adj.ItemID == "" || adj.LocationID == "" || adj.Delta == 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.applyAdjustmentLocked(adj)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// applyAdjustmentLocked mutates one inventory record and appends its audit
// row. Callers hold s.mu.
func (s *Store) applyAdjustmentLocked(adj domain.StockAdjustment) (*domain.InventoryRecord, error) {
	key := stockKey(adj.TenantID, adj.ItemID, adj.LocationID)
	next := s.inventory[key] + adj.Delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}
	s.inventory[key] = next
	s.inventoryTrail = append(s.inventoryTrail, domain.InventoryTransaction{
		ID:            uuid.NewString(),
		TenantID:      adj.TenantID,
		ItemID:        adj.ItemID,
		LocationID:    adj.LocationID,
		ActorID:       adj.ActorID,
		QuantityDelta: adj.Delta,
		Reason:        adj.Reason,
		OccurredAt:    time.Now().UTC(),
	})
	return &domain.InventoryRecord{
		TenantID:   adj.TenantID,
		ItemID:     adj.ItemID,
		LocationID: adj.LocationID,
		Quantity:   next,
	}, nil
}

func (s *Store) TransferStock(_ context.Context, transfer domain.StockTransfer) error {
	if transfer.Quantity < 1 || transfer.FromLocationID == transfer.ToLocationID {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sourceKey := stockKey(transfer.TenantID, transfer.ItemID, transfer.FromLocationID)
	if s.inventory[sourceKey] < transfer.Quantity {
		return store.ErrInsufficientStock
	}

	if _, err := s.applyAdjustmentLocked(domain.StockAdjustment{
		TenantID:   transfer.TenantID,
		ItemID:     transfer.ItemID,
		LocationID: transfer.FromLocationID,
		ActorID:    transfer.ActorID,
		Delta:      -transfer.Quantity,
		Reason:     transfer.Reason,
	}); err != nil {
		return err
	}
	_, err := s.applyAdjustmentLocked(domain.StockAdjustment{
		TenantID:   transfer.TenantID,
		ItemID:     transfer.ItemID,
		LocationID: transfer.ToLocationID,
		ActorID:    transfer.ActorID,
		Delta:      transfer.Quantity,
		Reason:     transfer.Reason,
	})
	return err
}

func (s *Store) ListInventoryTransactions(_ context.Context, tenantID string, itemID string, locationID string, limit int) ([]domain.InventoryTransaction, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransaction, 0, limit)
	for i := len(s.inventoryTrail) - 1; i >= 0 && len(result) < limit; i-- {
		txn := s.inventoryTrail[i]
		if txn.TenantID != tenantID {
			continue
		}
		if itemID != "" && txn.ItemID != itemID {
			continue
		}
		if locationID != "" && txn.LocationID != locationID {
			continue
		}
		result = append(result, txn)
	}
	return result, nil
}

func (s *Store) NextInvoiceSequence(_ context.Context, tenantID string, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantID + "|" + day
	s.invoiceSeq[key]++
	return s.invoiceSeq[key], nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.InvoiceNumber == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.invoiceNumbers[invoiceKey(sale.TenantID, sale.InvoiceNumber)]; taken {
		return nil, store.ErrInvoiceCollision
	}

	// First pass: no write may happen if any record would go negative.
	// Deltas are summed per (item, location) first so duplicate lines for
	// the same record are checked against their combined quantity.
	if err := s.checkStockDeltasLocked(saleStockDeltas(sale, 1)); err != nil {
		return nil, err
	}

	reason := "sale #" + sale.InvoiceNumber
	if sale.Mode == domain.SaleModeReturn {
		reason = "return #" + sale.InvoiceNumber
	}
	for _, line := range sale.Lines {
		if _, err := s.applyAdjustmentLocked(domain.StockAdjustment{
			TenantID:   sale.TenantID,
			ItemID:     line.ItemID,
			LocationID: line.LocationID,
			ActorID:    sale.EmployeeID,
			Delta:      lineStockDelta(sale.Mode, line.Quantity),
			Reason:     reason,
		}); err != nil {
			return nil, err
		}
	}

	sale.Status = domain.SaleStatusCompleted
	stored := cloneSale(sale)
	s.salesByID[sale.ID] = stored
	s.invoiceNumbers[invoiceKey(sale.TenantID, sale.InvoiceNumber)] = struct{}{}
	return cloneSale(*stored), nil
}

func lineStockDelta(mode string, quantity int) int {
	if mode == domain.SaleModeReturn {
		return quantity
	}
	return -quantity
}

// saleStockDeltas sums the sale's stock deltas per (item, location) key.
// sign is 1 for a commit and -1 for the compensating void direction.
func saleStockDeltas(sale domain.Sale, sign int) map[string]int {
	deltas := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		key := stockKey(sale.TenantID, line.ItemID, line.LocationID)
		deltas[key] += sign * lineStockDelta(sale.Mode, line.Quantity)
	}
	return deltas
}

// checkStockDeltasLocked verifies that applying the summed deltas leaves
// every record non-negative. All deltas in one sale share a sign per key,
// so once this passes the per-line applies cannot fail part-way through.
// Callers hold s.mu.
func (s *Store) checkStockDeltasLocked(deltas map[string]int) error {
	for key, delta := range deltas {
		if s.inventory[key]+delta < 0 {
			return store.ErrInsufficientStock
		}
	}
	return nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(*sale), nil
}

func (s *Store) SuspendSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale.Status = domain.SaleStatusSuspended
	stored := cloneSale(sale)
	s.salesByID[sale.ID] = stored
	return cloneSale(*stored), nil
}

func (s *Store) ListSuspendedSales(_ context.Context, tenantID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 8)
	for _, sale := range s.salesByID {
		if sale.TenantID != tenantID || sale.Status != domain.SaleStatusSuspended {
			continue
		}
		sales = append(sales, *cloneSale(*sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return a.SaleTime.Compare(b.SaleTime)
	})
	return sales, nil
}

func (s *Store) GetSuspendedSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.Status != domain.SaleStatusSuspended {
		return nil, store.ErrNotFound
	}
	return cloneSale(*sale), nil
}

func (s *Store) ConsumeSuspendedSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusSuspended {
		return nil, store.ErrSuspendedConflict
	}
	delete(s.salesByID, saleID)
	return cloneSale(*sale), nil
}

func (s *Store) VoidSale(_ context.Context, saleID string, reason string, actorID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrInvalidSale
	}

	// Compensating deltas reverse the original signs; a void of a return
	// takes stock back out and must respect the non-negative floor. As in
	// CommitSale, deltas are summed per (item, location) before checking.
	if err := s.checkStockDeltasLocked(saleStockDeltas(*sale, -1)); err != nil {
		return nil, err
	}

	auditReason := "void of sale #" + sale.InvoiceNumber
	for _, line := range sale.Lines {
		if _, err := s.applyAdjustmentLocked(domain.StockAdjustment{
			TenantID:   sale.TenantID,
			ItemID:     line.ItemID,
			LocationID: line.LocationID,
			ActorID:    actorID,
			Delta:      -lineStockDelta(sale.Mode, line.Quantity),
			Reason:     auditReason,
		}); err != nil {
			return nil, err
		}
	}

	sale.Status = domain.SaleStatusCancelled
	sale.VoidReason = reason
	voidedAt := at
	sale.VoidedAt = &voidedAt
	return cloneSale(*sale), nil
}

func (s *Store) AccrueLoyaltyPoints(_ context.Context, entry domain.LoyaltyEntry) (int64, error) {
	if entry.CustomerID == "" || entry.Points < 1 {
		return 0, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := entry.TenantID + "|" + entry.CustomerID
	s.loyaltyBalances[key] += entry.Points
	s.loyaltyEntries = append(s.loyaltyEntries, entry)
	return s.loyaltyBalances[key], nil
}

func (s *Store) GetLoyaltyBalance(_ context.Context, tenantID string, customerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loyaltyBalances[tenantID+"|"+customerID], nil
}

func (s *Store) CreateCommission(_ context.Context, commission domain.Commission) (*domain.Commission, error) {
	if commission.EmployeeID == "" || commission.SaleID == "" {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if commission.ID == "" {
		commission.ID = uuid.NewString()
	}
	s.commissionsByID[commission.ID] = commission
	created := commission
	return &created, nil
}

func (s *Store) ListCommissions(_ context.Context, tenantID string, employeeID string, unpaidOnly bool) ([]domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Commission, 0, 16)
	for _, commission := range s.commissionsByID {
		if commission.TenantID != tenantID {
			continue
		}
		if employeeID != "" && commission.EmployeeID != employeeID {
			continue
		}
		if unpaidOnly && commission.Paid {
			continue
		}
		result = append(result, commission)
	}
	slices.SortFunc(result, func(a, b domain.Commission) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidSale
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale domain.Sale) *domain.Sale {
	copied := sale
	copied.Lines = slices.Clone(sale.Lines)
	copied.Payments = slices.Clone(sale.Payments)
	if sale.VoidedAt != nil {
		at := *sale.VoidedAt
		copied.VoidedAt = &at
	}
	return &copied
}
