package fulfillment

import "sort"

// DeliveryRecord is one shipment row in the daily delivery report.
type DeliveryRecord struct {
	OrderID      OrderID `json:"order_id"`
	UserID       UserID  `json:"user_id"`
	Items        string  `json:"items"`
	LogIndex     int     `json:"log_index"`
	DeliveryDate string  `json:"delivery_date"`
	Quantity     int     `json:"qty"`
	Address      string  `json:"address"`
	IsCorrected  bool    `json:"is_corrected"`
	OrderStatus  Status  `json:"order_status"`
}

// DeliveryRecordsOn lists every shipment dated date, using effective
// quantities. Rows are ordered by order ID then log index.
func DeliveryRecordsOn(orders []Order, date string) []DeliveryRecord {
	records := []DeliveryRecord{}
	for _, o := range orders {
		for i, e := range o.Deliveries {
			if e.DeliveryDate != date {
				continue
			}
			records = append(records, DeliveryRecord{
				OrderID:      o.ID,
				UserID:       o.UserID,
				Items:        o.Items,
				LogIndex:     i,
				DeliveryDate: e.DeliveryDate,
				Quantity:     e.Effective(),
				Address:      e.Address,
				IsCorrected:  e.IsCorrected,
				OrderStatus:  o.Status,
			})
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].OrderID != records[j].OrderID {
			return records[i].OrderID < records[j].OrderID
		}
		return records[i].LogIndex < records[j].LogIndex
	})
	return records
}
