package orders

import (
	"sort"

	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

var (
	freeShippingOver = decimal.NewFromInt(100)
	flatShipping     = decimal.NewFromInt(10)
	taxRate          = decimal.New(8, -2)
)

// Summary is a checkout preview. Shipping and tax are shown to the
// customer but are not part of a placed order's total.
type Summary struct {
	Items           []models.CartLine `json:"items"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	Shipping        decimal.Decimal   `json:"shipping"`
	Tax             decimal.Decimal   `json:"tax"`
	Total           decimal.Decimal   `json:"total"`
	OutOfStock      []int64           `json:"out_of_stock,omitempty"`
	ShippingAddress string            `json:"shipping_address"`
}

// Total is sum(unit price * quantity) over lines.
func Total(lines []models.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(freeShippingOver) {
		return decimal.Zero
	}
	return flatShipping
}

func TaxFor(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(taxRate).Round(2)
}

// shortProducts returns the sorted ids of products whose stock cannot
// cover the combined quantity of every line that references them.
func shortProducts(lines []models.CartLine) []int64 {
	need := make(map[int64]int)
	stock := make(map[int64]int)
	for _, l := range lines {
		need[l.ProductID] += l.Quantity
		stock[l.ProductID] = l.Stock
	}

	var short []int64
	for id, qty := range need {
		if stock[id] < qty {
			short = append(short, id)
		}
	}
	sort.Slice(short, func(i, j int) bool { return short[i] < short[j] })
	return short
}

// stockAfter is each product's stock once every line has been decremented.
func stockAfter(lines []models.CartLine) map[int64]int {
	left := make(map[int64]int)
	for _, l := range lines {
		if _, ok := left[l.ProductID]; !ok {
			left[l.ProductID] = l.Stock
		}
		left[l.ProductID] -= l.Quantity
	}
	return left
}

func buildSummary(lines []models.CartLine, a models.ShippingAddress) *Summary {
	subtotal := Total(lines)
	shipping := ShippingFor(subtotal)
	tax := TaxFor(subtotal)

	return &Summary{
		Items:           lines,
		Subtotal:        subtotal,
		Shipping:        shipping,
		Tax:             tax,
		Total:           subtotal.Add(shipping).Add(tax),
		OutOfStock:      shortProducts(lines),
		ShippingAddress: addressLine(a),
	}
}
