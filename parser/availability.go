package parser

import "github.com/aluiziolira/go-scrape-figures/models"

// ResolveAvailability applies the canonical precedence to a flag set. Rules
// are evaluated in order and the first match wins; order_closed with neither
// preorder nor backorder lands in the generic Order Closed bucket.
func ResolveAvailability(flags map[Flag]bool) models.Availability {
	closed := flags[FlagOrderClosed]
	switch {
	case closed && flags[FlagPreorder]:
		return models.PreOrderClosed
	case closed && flags[FlagBackorder]:
		return models.BackOrderClosed
	case closed:
		return models.OrderClosed
	case flags[FlagPreorder]:
		return models.PreOrder
	case flags[FlagBackorder]:
		return models.BackOrder
	case flags[FlagPreowned]:
		return models.PreOwned
	case flags[FlagLimited]:
		return models.Limited
	case flags[FlagOnSale]:
		return models.OnSale
	default:
		return models.Available
	}
}
