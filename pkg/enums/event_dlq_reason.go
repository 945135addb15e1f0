package enums

import "fmt"

// EventDLQReason classifies why a consumer dead-lettered a delivery.
type EventDLQReason string

const (
	EventDLQReasonDecodeFailed EventDLQReason = "decode_failed"
	EventDLQReasonSkuNotFound  EventDLQReason = "sku_not_found"
	EventDLQReasonNonRetryable EventDLQReason = "non_retryable"
)

var validEventDLQReasons = []EventDLQReason{
	EventDLQReasonDecodeFailed,
	EventDLQReasonSkuNotFound,
	EventDLQReasonNonRetryable,
}

// IsValid reports whether the value is a known EventDLQReason.
func (r EventDLQReason) IsValid() bool {
	for _, candidate := range validEventDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseEventDLQReason converts raw input into EventDLQReason.
func ParseEventDLQReason(value string) (EventDLQReason, error) {
	for _, candidate := range validEventDLQReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event dlq reason %q", value)
}
