package domain

// Source records whether an inventory answer came from the provider or from the
// local fallback table.
type Source string

const (
	SourceUpstream Source = "upstream"
	SourceFallback Source = "fallback"
)

type Medicine struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	Stock        int     `json:"stock"`
	Manufacturer string  `json:"manufacturer"`
}

type MedicineFilter struct {
	Query    string
	Category string
}

// StockLine is one medicine + quantity sent to the inventory provider.
type StockLine struct {
	MedicineID   string `json:"medicineId"`
	MedicineName string `json:"-"`
	Quantity     int    `json:"quantity"`
}

// Unavailable describes a line the inventory cannot cover.
type Unavailable struct {
	MedicineID string `json:"medicineId"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}
