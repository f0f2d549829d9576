package execution

import (
	"strings"

	"mimic/internal/store/model"
)

// TradeStatusFor maps a venue order status onto the trade lifecycle. Unknown
// statuses are treated as still working.
func TradeStatusFor(venueStatus string) model.TradeStatus {
	s := strings.ToLower(strings.TrimSpace(venueStatus))
	switch {
	case s == "partially_filled":
		return model.TradeStatusPartiallyFilled
	case s == "filled":
		return model.TradeStatusFilled
	case s == "canceled", s == "cancelled", s == "expired", s == "done_for_day", s == "replaced":
		return model.TradeStatusCanceled
	case s == "rejected", s == "suspended":
		return model.TradeStatusRejected
	case strings.HasPrefix(s, "pending_"), s == "new", s == "accepted", s == "accepted_for_bidding",
		s == "held", s == "calculated", s == "stopped":
		return model.TradeStatusSubmitted
	default:
		return model.TradeStatusSubmitted
	}
}
