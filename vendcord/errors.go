package vendcord

import "errors"

var (
	// ErrUnauthorized indicates the acting user lacks the admin role, or
	// is interacting with another user's order.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyProcessed indicates a decision was attempted on an order
	// that already reached a terminal state.
	ErrAlreadyProcessed = errors.New("order already processed")

	// ErrOutOfStock indicates no unused stock item matched the order's
	// product. The order remains pending and the decision can be retried
	// once stock is replenished.
	ErrOutOfStock = errors.New("no stock available")

	// ErrOrderNotFound indicates no order exists for the given order ID.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotCompleted indicates a vouch was attempted for an order
	// that hasn't been fulfilled.
	ErrOrderNotCompleted = errors.New("order not completed")

	// ErrAlreadyReviewed indicates a vouch already exists for the order.
	ErrAlreadyReviewed = errors.New("order already reviewed")

	// ErrInvalidRating indicates a vouch rating outside the 1-5 range.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// userErrorMessage converts an error into a short message suitable for an
// ephemeral interaction reply. Errors outside the storefront taxonomy get
// the configured generic error message.
func userErrorMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "You aren't allowed to do that."
	case errors.Is(err, ErrAlreadyProcessed):
		return "This order has already been processed."
	case errors.Is(err, ErrOutOfStock):
		return "No stock available for this product."
	case errors.Is(err, ErrOrderNotFound):
		return "Order not found."
	case errors.Is(err, ErrOrderNotCompleted):
		return "You can only review a delivered order."
	case errors.Is(err, ErrAlreadyReviewed):
		return "You've already left a review for this order."
	case errors.Is(err, ErrInvalidRating):
		return "Rating must be between 1 and 5."
	default:
		return fallback
	}
}
