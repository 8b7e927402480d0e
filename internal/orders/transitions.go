package orders

import "github.com/safar/storefront/internal/models"

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
	models.OrderStatusDelivered:  {},
	models.OrderStatusCancelled:  {},
}

// CanTransition reports whether an order may move from one status to
// another. Re-applying the current status is not a transition.
func CanTransition(from, to models.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextStatuses lists where an order in status s may go.
func NextStatuses(s models.OrderStatus) []models.OrderStatus {
	next := transitions[s]
	out := make([]models.OrderStatus, len(next))
	copy(out, next)
	return out
}
