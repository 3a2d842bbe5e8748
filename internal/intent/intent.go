// Package intent classifies user messages into a fixed set of commerce
// intents via an ordered keyword rule table. Deliberately not ML: the table
// is deterministic and auditable, and rule order is load-bearing (the
// order-status rule must win over the generic order rule for "track my
// order").
package intent

import "strings"

// Intent is a coarse classification of a message's purpose.
type Intent string

const (
	BrowseProducts  Intent = "BROWSE_PRODUCTS"
	ProductInquiry  Intent = "PRODUCT_INQUIRY"
	PlaceOrder      Intent = "PLACE_ORDER"
	OrderStatus     Intent = "ORDER_STATUS"
	CancelOrder     Intent = "CANCEL_ORDER"
	DeliveryInquiry Intent = "DELIVERY_INQUIRY"
	Payment         Intent = "PAYMENT"
	GeneralInquiry  Intent = "GENERAL_INQUIRY"
)

// rule maps any-of substrings to an intent. First matching rule wins.
type rule struct {
	keywords []string
	intent   Intent
}

// rules are evaluated top to bottom. Do not reorder without checking the
// classifier tests: several rules shadow later, more generic ones.
var rules = []rule{
	{[]string{"cancel order", "cancel my order", "cancel the order"}, CancelOrder},
	{[]string{"order status", "track", "where is my order", "status of my order"}, OrderStatus},
	{[]string{"delivery", "deliver", "shipping", "ship"}, DeliveryInquiry},
	{[]string{"payment", "pay", "invoice", "bank"}, Payment},
	{[]string{"order", "buy", "purchase", "want to get"}, PlaceOrder},
	{[]string{"products", "catalog", "catalogue", "menu", "price list", "what do you sell", "show me"}, BrowseProducts},
	{[]string{"tell me about", "how much", "price of", "details"}, ProductInquiry},
}

// Classify maps message text to an intent. Pure function over the lower-cased
// text; unmatched messages fall back to GeneralInquiry.
func Classify(text string) Intent {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.intent
			}
		}
	}
	return GeneralInquiry
}
