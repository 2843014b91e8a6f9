package types

// PaymentStatus is the canonical status of a purchase intent.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusAbandoned PaymentStatus = "abandoned"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Terminal reports whether no further gateway evidence may change the status.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusAbandoned, PaymentStatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPending || s.Terminal()
}

// Closed reports whether the intent ended without a charge. A closed intent
// never accepts another attempt.
func (s PaymentStatus) Closed() bool {
	return s == PaymentStatusFailed || s == PaymentStatusAbandoned
}

// Rail names a payment gateway integration.
type Rail string

const (
	// RailPaystack handles card and bank transfers.
	RailPaystack Rail = "paystack"
	// RailFlutterwave handles mobile money.
	RailFlutterwave Rail = "flutterwave"
	// RailNowPayments handles cryptocurrency invoices.
	RailNowPayments Rail = "nowpayments"
)

var Rails = []Rail{RailPaystack, RailFlutterwave, RailNowPayments}

func (r Rail) Valid() bool {
	for _, it := range Rails {
		if it == r {
			return true
		}
	}
	return false
}

type EventType string

const (
	EventTypeFirstAttempt       EventType = "first_attempt"
	EventTypeRetryAttempt       EventType = "retry_attempt"
	EventTypeInitiated          EventType = "initiated"
	EventTypeFailedInit         EventType = "failed_init"
	EventTypeStatusUpdate       EventType = "status_update"
	EventTypeVerificationFailed EventType = "verification_failed"
	EventTypeStatusAnomaly      EventType = "status_anomaly"
	EventTypeFulfilled          EventType = "fulfilled"
	EventTypeFulfillmentFailed  EventType = "fulfillment_failed"
	EventTypeRefunded           EventType = "refunded"
)

// EventSource records which path produced an event.
type EventSource string

const (
	EventSourceCheckout EventSource = "checkout"
	EventSourceVerify   EventSource = "verify"
	EventSourceWebhook  EventSource = "webhook"
	EventSourceAdmin    EventSource = "admin"
	EventSourceSystem   EventSource = "system"
)

// ErrorType is the error taxonomy surfaced to API clients.
type ErrorType string

const (
	ErrorTypeDeveloper ErrorType = "developer"
	ErrorTypeGateway   ErrorType = "gateway"
	ErrorTypeUser      ErrorType = "user"
)
