package intent

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Intent
	}{
		{"show me your products", BrowseProducts},
		{"can I see the catalogue?", BrowseProducts},
		{"I want to buy pulled pork", PlaceOrder},
		{"I'd like to place an order", PlaceOrder},
		{"where is my order", OrderStatus},
		{"track my order please", OrderStatus},
		{"what's the order status?", OrderStatus},
		{"cancel my order", CancelOrder},
		{"when will you deliver?", DeliveryInquiry},
		{"how do I pay", Payment},
		{"tell me about the brisket", ProductInquiry},
		{"hello there", GeneralInquiry},
		{"", GeneralInquiry},
	}

	for _, tc := range cases {
		if got := Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

// Rule order matters: messages matching both a specific and a generic rule
// must resolve to the specific one.
func TestClassify_OrderSensitivity(t *testing.T) {
	if got := Classify("track my order"); got != OrderStatus {
		t.Fatalf("'track my order' must hit the status rule before the order rule, got %s", got)
	}
	if got := Classify("cancel the order please"); got != CancelOrder {
		t.Fatalf("'cancel the order' must hit the cancel rule first, got %s", got)
	}
	if got := Classify("when do you deliver my order"); got != DeliveryInquiry {
		t.Fatalf("delivery rule must precede the order rule, got %s", got)
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	if got := Classify("SHOW ME YOUR PRODUCTS"); got != BrowseProducts {
		t.Fatalf("classification must be case-insensitive, got %s", got)
	}
}
