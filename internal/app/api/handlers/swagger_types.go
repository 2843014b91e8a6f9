package handlers

import (
	"github.com/fatflowers/settle/internal/app/service/checkout"
	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/statistics"
	"github.com/fatflowers/settle/internal/app/service/webhook"
	"github.com/fatflowers/settle/pkg/response"
	"github.com/fatflowers/settle/pkg/types"
)

// RespError is the error envelope.
type RespError struct {
	Status  response.Status `json:"status" example:"error"`
	Type    types.ErrorType `json:"type" example:"user"`
	Message string          `json:"message"`
	Details interface{}     `json:"details"`
}

// RespCheckout wraps checkout.Result in the standard envelope.
type RespCheckout struct {
	Status        response.Status     `json:"status" example:"success"`
	PaymentStatus types.PaymentStatus `json:"payment_status" example:"pending"`
	Data          checkout.Result     `json:"data"`
}

// RespVerify wraps checkout.Status. Status is success, pending or error.
type RespVerify struct {
	Status        response.Status     `json:"status" example:"pending"`
	Type          types.ErrorType     `json:"type,omitempty"`
	Message       string              `json:"message,omitempty"`
	PaymentStatus types.PaymentStatus `json:"payment_status" example:"pending"`
	Data          checkout.Status     `json:"data"`
}

type RespGrant struct {
	Status response.Status `json:"status" example:"success"`
	Data   GrantResponse   `json:"data"`
}

type RespWebhook struct {
	Status response.Status `json:"status" example:"success"`
	Data   webhook.Outcome `json:"data"`
}

type RespListIntents struct {
	Status response.Status      `json:"status" example:"success"`
	Data   journey.ScanResponse `json:"data"`
}

type RespJourney struct {
	Status response.Status `json:"status" example:"success"`
	Data   journey.Record  `json:"data"`
}

type RespRefund struct {
	Status        response.Status     `json:"status" example:"success"`
	PaymentStatus types.PaymentStatus `json:"payment_status" example:"refunded"`
	Data          RefundResponse      `json:"data"`
}

type RespStatistics struct {
	Status response.Status     `json:"status" example:"success"`
	Data   statistics.Response `json:"data"`
}
