package domain

// Product is the part of a catalog product the checkout depends on.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Stock    int    `json:"stock"`
	IsActive bool   `json:"is_active"`
}

type StockLevel struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}
