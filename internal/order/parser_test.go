package order

import (
	"testing"

	"shopbot/internal/domain"
)

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		text    string
		want    int
		wantErr bool
	}{
		{"2 cartons", 2, false},
		{"2", 2, false},
		{"I'll take 10 please", 10, false},
		{"x12y", 12, false},
		{"0 cartons", 0, true},
		{"invalid quantity", 0, true},
		{"", 0, true},
		{"a couple", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseQuantity(tc.text)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseQuantity(%q) expected error, got %d", tc.text, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseQuantity(%q) unexpected error: %v", tc.text, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseQuantity(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("123 Test St, Sydney, NSW, 2000", "Australia")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Street != "123 Test St" || addr.City != "Sydney" || addr.State != "NSW" || addr.Postcode != "2000" {
		t.Fatalf("bad parse: %+v", addr)
	}
	if addr.Country != "Australia" {
		t.Fatalf("country must default, got %q", addr.Country)
	}
}

func TestParseAddress_Rejects(t *testing.T) {
	bad := []string{
		"123 Test St, Sydney, NSW",             // 3 fields
		"123 Test St, Sydney, NSW, 2000, AU",   // 5 fields
		"123 Test St, , NSW, 2000",             // empty field
		"just an address without commas",       // 1 field
		"",                                     // empty
	}
	for _, text := range bad {
		if _, err := ParseAddress(text, "Australia"); err == nil {
			t.Errorf("ParseAddress(%q) expected error", text)
		}
	}
}

func TestMatchProduct(t *testing.T) {
	products := []domain.Product{
		{ID: "pp-001", Name: "Pulled Pork", CartonPrice: 259.99},
		{ID: "bb-002", Name: "Beef Brisket", CartonPrice: 289.99},
	}

	cases := []struct {
		text string
		want string // expected product name, "" for no match
	}{
		{"I want pulled pork please", "Pulled Pork"},
		{"pulled pork", "Pulled Pork"},
		{"PULLED PORK", "Pulled Pork"},
		{"pork", "Pulled Pork"}, // fragment of the name
		{"pp-001", "Pulled Pork"},
		{"beef brisket please", "Beef Brisket"},
		{"chicken wings", ""},
		{"", ""},
	}

	for _, tc := range cases {
		got := MatchProduct(tc.text, products)
		if tc.want == "" {
			if got != nil {
				t.Errorf("MatchProduct(%q) expected no match, got %s", tc.text, got.Name)
			}
			continue
		}
		if got == nil || got.Name != tc.want {
			t.Errorf("MatchProduct(%q) = %v, want %s", tc.text, got, tc.want)
		}
	}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		text string
		want Decision
	}{
		{"confirm order", DecisionConfirm},
		{"yes please", DecisionConfirm},
		{"modify order", DecisionModify},
		{"I'd like to change it", DecisionModify},
		{"cancel order", DecisionCancel},
		{"cancel", DecisionCancel},
		{"maybe later", DecisionUnknown},
		{"", DecisionUnknown},
	}
	for _, tc := range cases {
		if got := ParseDecision(tc.text); got != tc.want {
			t.Errorf("ParseDecision(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
