package actions

import (
	"context"
	"strings"
)

const (
	CheckOrderStatus = "check_order_status"

	StatusShipped  = "Shipped"
	StatusReturned = "Returned"
	StatusInvalid  = "Invalid ID"
)

// OrderStatus classifies an order ID by case-sensitive substring match.
// "ORD" wins over "RET" when both are present.
func OrderStatus(orderID string) string {
	switch {
	case strings.Contains(orderID, "ORD"):
		return StatusShipped
	case strings.Contains(orderID, "RET"):
		return StatusReturned
	default:
		return StatusInvalid
	}
}

func checkOrderStatus(_ context.Context, args Args) (string, error) {
	return OrderStatus(args["order_id"]), nil
}

// RegisterDefaults adds the built-in actions to r.
func RegisterDefaults(r *Registry) error {
	return r.Register(CheckOrderStatus, Action{
		Description: "Look up the shipping status of an order by its order ID.",
		Params:      []string{"order_id"},
		Func:        checkOrderStatus,
	})
}
