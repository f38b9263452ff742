package inventory

import (
	"strings"
	"sync"

	"github.com/himpar21/medisync/internal/domain"
)

// seedCatalog is the local development catalog served while the provider is down.
var seedCatalog = []domain.Medicine{
	{ID: "MED-1001", Name: "Paracetamol 650", Category: "Pain Relief", Price: 32, Stock: 80, Manufacturer: "MediSync Pharma"},
	{ID: "MED-1002", Name: "Vitamin C 500mg", Category: "Supplements", Price: 140, Stock: 45, Manufacturer: "NutriCare Labs"},
	{ID: "MED-1003", Name: "Cetirizine 10mg", Category: "Allergy", Price: 48, Stock: 60, Manufacturer: "HealWell"},
	{ID: "MED-1004", Name: "Azithromycin 500", Category: "Antibiotic", Price: 190, Stock: 25, Manufacturer: "CareGen"},
	{ID: "MED-1005", Name: "ORS Electrolyte Sachet", Category: "Hydration", Price: 18, Stock: 120, Manufacturer: "HydraPlus"},
	{ID: "MED-1006", Name: "Omeprazole 20mg", Category: "Digestive Care", Price: 75, Stock: 40, Manufacturer: "CoreMeds"},
}

// LocalCatalog is the in-process stock table backing the fallback strategies.
// Its key set is fixed at construction: releases for unknown SKUs are dropped,
// so the table cannot grow from request input.
type LocalCatalog struct {
	mu        sync.RWMutex
	medicines []domain.Medicine
	stock     map[string]int
}

func NewLocalCatalog() *LocalCatalog {
	return newLocalCatalog(seedCatalog)
}

func newLocalCatalog(seed []domain.Medicine) *LocalCatalog {
	c := &LocalCatalog{
		medicines: make([]domain.Medicine, len(seed)),
		stock:     make(map[string]int, len(seed)),
	}
	copy(c.medicines, seed)
	for _, m := range seed {
		c.stock[m.ID] = m.Stock
	}
	return c
}

// List filters by a case-insensitive substring of name or id and an exact,
// case-insensitive category.
func (c *LocalCatalog) List(filter domain.MedicineFilter) []domain.Medicine {
	search := strings.ToLower(strings.TrimSpace(filter.Query))
	category := strings.ToLower(strings.TrimSpace(filter.Category))

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Medicine, 0, len(c.medicines))
	for _, m := range c.medicines {
		if search != "" &&
			!strings.Contains(strings.ToLower(m.Name), search) &&
			!strings.Contains(strings.ToLower(m.ID), search) {
			continue
		}
		if category != "" && strings.ToLower(m.Category) != category {
			continue
		}
		m.Stock = c.stock[m.ID]
		out = append(out, m)
	}
	return out
}

func (c *LocalCatalog) Get(id string) (*domain.Medicine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.medicines {
		if m.ID == id {
			m.Stock = c.stock[m.ID]
			return &m, true
		}
	}
	return nil, false
}

// Verify reports every line the table cannot cover.
func (c *LocalCatalog) Verify(lines []domain.StockLine) []domain.Unavailable {
	c.mu.RLock()
	defer c.mu.RUnlock()

	unavailable := []domain.Unavailable{}
	for _, line := range lines {
		available := c.stock[line.MedicineID]
		if line.Quantity > available {
			unavailable = append(unavailable, domain.Unavailable{
				MedicineID: line.MedicineID,
				Requested:  line.Quantity,
				Available:  available,
			})
		}
	}
	return unavailable
}

// Reserve decrements every line or none of them.
func (c *LocalCatalog) Reserve(lines []domain.StockLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, line := range lines {
		if line.Quantity > c.stock[line.MedicineID] {
			name := line.MedicineName
			if name == "" {
				name = line.MedicineID
			}
			return &InsufficientStockError{Name: name}
		}
	}

	for _, line := range lines {
		c.stock[line.MedicineID] -= line.Quantity
	}
	return nil
}

func (c *LocalCatalog) Release(lines []domain.StockLine) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, line := range lines {
		if _, known := c.stock[line.MedicineID]; known {
			c.stock[line.MedicineID] += line.Quantity
		}
	}
}

type InsufficientStockError struct {
	Name string
}

func (e *InsufficientStockError) Error() string {
	return "Insufficient stock for " + e.Name
}

// Stock returns the current level for id, or zero for an unknown SKU.
func (c *LocalCatalog) Stock(id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stock[id]
}
