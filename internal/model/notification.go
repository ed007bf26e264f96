package model

// Notification event types.
const (
	EventOrderCreated       = "ORDER_CREATED"
	EventOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// Notification is the message published to the topic. Subject and DedupKey
// travel out of band (message key/headers), not in the JSON body.
type Notification struct {
	EventType    string `json:"eventType"`
	OrderID      string `json:"orderId"`
	CustomerName string `json:"customerName"`
	Amount       string `json:"amount,omitempty"`
	OldStatus    string `json:"oldStatus,omitempty"`
	NewStatus    string `json:"newStatus,omitempty"`
	Timestamp    string `json:"timestamp"`
	Message      string `json:"message"`

	Subject  string `json:"-"`
	DedupKey string `json:"-"`
}
