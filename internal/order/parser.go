// Package order implements the scripted order-placement dialogue: a four
// stage state machine driven by free-text parsing, with a corrective
// re-prompt on every parse failure. Parsing lives in this file so each
// grammar rule is testable on its own.
package order

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"shopbot/internal/domain"
)

var (
	errNoQuantity      = errors.New("no quantity found in message")
	errInvalidQuantity = errors.New("quantity must be a positive whole number")
	errBadAddress      = errors.New("address must have exactly 4 comma-separated parts")
)

// firstInteger matches the first run of digits anywhere in the text, so
// "2 cartons please" parses as 2 regardless of the unit word.
var firstInteger = regexp.MustCompile(`\d+`)

// ParseQuantity extracts the first integer from the message. Values below 1
// are rejected.
func ParseQuantity(text string) (int, error) {
	m := firstInteger.FindString(text)
	if m == "" {
		return 0, errNoQuantity
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, errNoQuantity
	}
	if n <= 0 {
		return 0, errInvalidQuantity
	}
	return n, nil
}

// ParseAddress splits the message on commas and requires exactly four
// non-empty trimmed fields: street, city, state, postcode. The country is
// never collected; it defaults to the configured value.
func ParseAddress(text, defaultCountry string) (domain.Address, error) {
	parts := strings.Split(text, ",")
	if len(parts) != 4 {
		return domain.Address{}, errBadAddress
	}
	fields := make([]string, 0, 4)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return domain.Address{}, errBadAddress
		}
		fields = append(fields, p)
	}
	return domain.Address{
		Street:   fields[0],
		City:     fields[1],
		State:    fields[2],
		Postcode: fields[3],
		Country:  defaultCountry,
	}, nil
}

// MatchProduct finds the first catalog product whose name or id appears in
// the message (or vice versa for short messages like "pork").
func MatchProduct(text string, products []domain.Product) *domain.Product {
	lower := strings.ToLower(text)
	for i := range products {
		name := strings.ToLower(products[i].Name)
		id := strings.ToLower(products[i].ID)
		if strings.Contains(lower, name) || (id != "" && strings.Contains(lower, id)) {
			return &products[i]
		}
		// Allow the message itself to be a fragment of the product name.
		if len(lower) >= 3 && strings.Contains(name, lower) {
			return &products[i]
		}
	}
	return nil
}

// Decision is the parsed outcome of a confirmation-stage message.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionConfirm
	DecisionModify
	DecisionCancel
)

// ParseDecision matches confirm/modify/cancel substrings. Cancel is checked
// first so "cancel the confirmation" cancels.
func ParseDecision(text string) Decision {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "cancel"):
		return DecisionCancel
	case strings.Contains(lower, "modify"), strings.Contains(lower, "change"):
		return DecisionModify
	case strings.Contains(lower, "confirm"), strings.Contains(lower, "yes"):
		return DecisionConfirm
	default:
		return DecisionUnknown
	}
}
