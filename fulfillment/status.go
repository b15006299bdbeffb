package fulfillment

// EffectiveQuantity is CorrectedQuantity when present, otherwise Quantity.
func EffectiveQuantity(e DeliveryEvent) int {
	if e.CorrectedQuantity != nil {
		return *e.CorrectedQuantity
	}
	return e.Quantity
}

// TotalDelivered sums effective quantities.
func TotalDelivered(events []DeliveryEvent) int {
	total := 0
	for _, e := range events {
		total += EffectiveQuantity(e)
	}
	return total
}

// Remaining returns ordered minus delivered, never negative.
func Remaining(ordered int, events []DeliveryEvent) int {
	r := ordered - TotalDelivered(events)
	if r < 0 {
		return 0
	}
	return r
}

// DeriveStatus maps delivered vs. ordered onto a Status.
//
//	total >= ordered  -> completed
//	total > 0         -> partially_delivered
//	otherwise         -> processing
//
// An order for zero or fewer units is completed from the start.
//
// Pure; calling it twice on the same input gives the same answer.
func DeriveStatus(ordered int, events []DeliveryEvent) Status {
	total := TotalDelivered(events)
	switch {
	case total >= ordered:
		return StatusCompleted
	case total > 0:
		return StatusPartiallyDelivered
	default:
		return StatusProcessing
	}
}
