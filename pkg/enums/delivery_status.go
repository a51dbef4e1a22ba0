package enums

import "fmt"

// DeliveryStatus tracks the courier-side lifecycle of an order.
type DeliveryStatus string

const (
	DeliveryStatusOrderPlaced    DeliveryStatus = "order_placed"
	DeliveryStatusOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
	DeliveryStatusDeliveryFailed DeliveryStatus = "delivery_failed"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusOrderPlaced,
	DeliveryStatusOutForDelivery,
	DeliveryStatusDelivered,
	DeliveryStatusDeliveryFailed,
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
