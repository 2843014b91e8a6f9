package response

import "github.com/fatflowers/settle/pkg/types"

// Status is the top level outcome of a request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / PendingT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Status        Status              `json:"status"`
	Type          types.ErrorType     `json:"type,omitempty"`
	Message       string              `json:"message,omitempty"`
	Details       any                 `json:"details,omitempty"`
	PaymentStatus types.PaymentStatus `json:"payment_status,omitempty"`
	Data          T                   `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Status: StatusSuccess, Data: data}
}

// PendingT returns a response for a payment that has not settled yet.
func PendingT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Status: StatusPending, PaymentStatus: types.PaymentStatusPending, Data: data}
}

// ErrorT returns an error response with message and optional details.
func ErrorT[T any](typ types.ErrorType, message string, details any) *APIResponse[T] {
	return &APIResponse[T]{Status: StatusError, Type: typ, Message: message, Details: details}
}

// WithPaymentStatus sets the canonical payment status on the envelope.
func (r *APIResponse[T]) WithPaymentStatus(s types.PaymentStatus) *APIResponse[T] {
	r.PaymentStatus = s
	return r
}
