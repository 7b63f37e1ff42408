package dto

import (
	"fmt"
	"net/url"
	"regexp"
)

var (
	phonePattern   = regexp.MustCompile(`^254\d{9}$`)
	orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
)

// ValidatePhoneNumber enforces the upstream MSISDN format (2547XXXXXXXX).
func ValidatePhoneNumber(phone string) error {
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("phone number must match 254XXXXXXXXX, got %q", phone)
	}
	return nil
}

// ValidateOrderID enforces a safe order id charset and length.
func ValidateOrderID(orderID string) error {
	if !orderIDPattern.MatchString(orderID) {
		return fmt.Errorf("order id must be 1-100 chars of [A-Za-z0-9_-]")
	}
	return nil
}

// ValidateCallbackURL accepts empty (notification disabled) or an
// absolute http(s) URL.
func ValidateCallbackURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("callback url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("callback url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("callback url must be absolute")
	}
	return nil
}

// Validate runs the cross-field checks binding tags cannot express.
func (r *PaymentRequest) Validate() error {
	if err := ValidateOrderID(r.OrderID); err != nil {
		return err
	}
	if err := ValidatePhoneNumber(r.PhoneNumber); err != nil {
		return err
	}
	return ValidateCallbackURL(r.CallbackURL)
}
