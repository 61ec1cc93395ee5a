package scoring

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Historical aggregates are supplied by an external analytics source; the
// engine only specifies the shape it needs. All sources must be safe for
// concurrent use.

// SupplierStats summarizes a supplier's reconciliation history over a
// rolling window.
type SupplierStats struct {
	SupplierID        string  `json:"supplier_id"`
	OrderCount        int     `json:"order_count"`
	AverageConfidence float64 `json:"average_confidence"`
	DisputeRate       float64 `json:"dispute_rate"`
}

// ProductStats summarizes a supplier+product's order history over a rolling
// window.
type ProductStats struct {
	SupplierID          string          `json:"supplier_id"`
	ProductCode         string          `json:"product_code"`
	TransactionCount    int             `json:"transaction_count"`
	MeanPrice           decimal.Decimal `json:"mean_price"`
	PriceStdDev         decimal.Decimal `json:"price_std_dev"`
	AverageIntervalDays float64         `json:"average_interval_days"`
	IntervalStdDevDays  float64         `json:"interval_std_dev_days"`
}

// CustomerStats summarizes a buyer's ordering activity over a rolling window.
type CustomerStats struct {
	BuyerID    string          `json:"buyer_id"`
	OrderCount int             `json:"order_count"`
	TotalValue decimal.Decimal `json:"total_value"`
	VIP        bool            `json:"vip"`
}

// SupplierStatsSource provides supplier reconciliation aggregates.
type SupplierStatsSource interface {
	SupplierStats(ctx context.Context, supplierID string, window time.Duration) (*SupplierStats, error)
}

// ProductStatsSource provides supplier+product order aggregates.
type ProductStatsSource interface {
	ProductStats(ctx context.Context, supplierID, productCode string, window time.Duration) (*ProductStats, error)
}

// CustomerStatsSource provides buyer activity aggregates.
type CustomerStatsSource interface {
	CustomerStats(ctx context.Context, buyerID string, window time.Duration) (*CustomerStats, error)
}

// HistorySource bundles the three aggregate sources for wiring convenience.
type HistorySource interface {
	SupplierStatsSource
	ProductStatsSource
	CustomerStatsSource
}
