package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicPaymentUpdated     = "payment.updated"
	TopicNotificationRetry  = "payment.notification.retry"
)

// Partition key = order number, supaya semua event 1 order maintain urutan.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }
