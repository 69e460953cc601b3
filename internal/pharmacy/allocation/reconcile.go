package allocation

// Line is a product/quantity pair within an order, as seen by the
// reconciliation engine.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// StockRequest is one net inventory effect produced by reconciliation.
// A positive Delta consumes stock (FEFO); a negative Delta restocks.
type StockRequest struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

// IsConsume reports whether the request removes stock.
func (r StockRequest) IsConsume() bool { return r.Delta > 0 }

// Quantity returns the absolute quantity of the request.
func (r StockRequest) Quantity() int {
	if r.Delta < 0 {
		return -r.Delta
	}
	return r.Delta
}

// Reconcile diffs an order's previous lines against its new lines and emits
// the net stock requests per product. Removed products restock in full,
// added products consume in full, changed quantities move by the
// difference, unchanged lines produce nothing. Duplicate product lines are
// summed before diffing. Output order follows the old slice, then new
// additions, so results are deterministic.
func Reconcile(oldLines, newLines []Line) []StockRequest {
	oldQty := sumByProduct(oldLines)
	newQty := sumByProduct(newLines)

	requests := make([]StockRequest, 0)
	seen := make(map[string]bool)

	for _, l := range oldLines {
		if seen[l.ProductID] {
			continue
		}
		seen[l.ProductID] = true

		diff := newQty[l.ProductID] - oldQty[l.ProductID]
		if diff != 0 {
			requests = append(requests, StockRequest{ProductID: l.ProductID, Delta: diff})
		}
	}

	for _, l := range newLines {
		if seen[l.ProductID] {
			continue
		}
		seen[l.ProductID] = true

		if qty := newQty[l.ProductID]; qty != 0 {
			requests = append(requests, StockRequest{ProductID: l.ProductID, Delta: qty})
		}
	}

	return requests
}

func sumByProduct(lines []Line) map[string]int {
	sums := make(map[string]int, len(lines))
	for _, l := range lines {
		sums[l.ProductID] += l.Quantity
	}
	return sums
}
