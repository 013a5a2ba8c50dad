package models

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"

	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Message is one entry in the message store. Timestamps are epoch seconds
// with fractional part, matching the store file written by earlier
// versions of the monitor.
type Message struct {
	MessageID      string                 `json:"message_id"`
	FromNodeID     string                 `json:"from_node_id"`
	FromName       string                 `json:"from_name"`
	ToNodeIDs      []string               `json:"to_node_ids"`
	IsBulletin     bool                   `json:"is_bulletin"`
	Text           string                 `json:"text"`
	Timestamp      float64                `json:"timestamp"`
	Direction      string                 `json:"direction"`
	Read           bool                   `json:"read"`
	ReadAt         *float64               `json:"read_at"`
	DeliveryStatus string                 `json:"delivery_status"`
	DeliveredAt    *float64               `json:"delivered_at"`
	ReadReceipts   map[string]ReadReceipt `json:"read_receipts"`
	Archived       bool                   `json:"archived"`
	Structured     bool                   `json:"structured"`
}

// ReadReceipt records that one recipient acknowledged reading a message.
type ReadReceipt struct {
	Read   bool    `json:"read"`
	ReadAt float64 `json:"read_at"`
}
