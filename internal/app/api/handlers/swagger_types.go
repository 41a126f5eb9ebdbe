package handlers

import (
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespScanOutbox wraps ScanOutboxResponse in the standard envelope.
type RespScanOutbox struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ScanOutboxResponse       `json:"data"`
}

// RespFreeCheckout wraps CompleteFreeCheckoutResponse in the standard envelope.
type RespFreeCheckout struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    CompleteFreeCheckoutResponse `json:"data"`
}

// RespSnapshot wraps the payment snapshot in the standard envelope.
type RespSnapshot struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.PaymentSnapshot   `json:"data"`
}
