// Package phone normalizes phone numbers to E.164.
package phone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidNumber = errors.New("invalid phone number")

// Normalizer parses local numbers against a default country calling code
// such as "+33".
type Normalizer struct {
	defaultRegion string
}

func NewNormalizer(defaultCountryCode string) (*Normalizer, error) {
	cc, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+"))
	if err != nil {
		return nil, fmt.Errorf("invalid default country code %q", defaultCountryCode)
	}
	region := phonenumbers.GetRegionCodeForCountryCode(cc)
	if region == "" || region == "ZZ" {
		return nil, fmt.Errorf("unknown default country code %q", defaultCountryCode)
	}
	return &Normalizer{defaultRegion: region}, nil
}

// Normalize returns the E.164 form of raw or ErrInvalidNumber.
func (n *Normalizer) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidNumber
	}
	if strings.HasPrefix(raw, "00") {
		raw = "+" + raw[2:]
	}

	num, err := phonenumbers.Parse(raw, n.defaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// LooksLikePhone is a cheap pre-check used to route a login principal.
func LooksLikePhone(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "@") {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 6
}
