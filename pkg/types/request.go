package types

import (
	"fmt"
	"strings"
)

// Method is a request verb
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// ParseMethod accepts any letter case
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
}

// DeliveryRequest is one outbound message. Body is nil when there is none.
type DeliveryRequest struct {
	Method     string
	Endpoint   string
	IsCritical bool
	Body       *string
}

// StringPtr is a helper for optional bodies
func StringPtr(s string) *string {
	return &s
}
