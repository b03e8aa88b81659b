package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Tipos de evento de resultado.
const (
	EventInvoiceAuthorized = "invoice.authorized"
	EventInvoiceRejected   = "invoice.rejected"
	EventInvoiceParked     = "invoice.parked"
)

// Event resultado de autorización consumido por los colaboradores.
type Event struct {
	Type           string     `json:"type"`
	OrganizationID string     `json:"organizationId"`
	InvoiceID      string     `json:"invoiceId"`
	CAE            string     `json:"cae,omitempty"`
	CAEExpiry      *time.Time `json:"caeExpiry,omitempty"`
	QRURL          string     `json:"qrUrl,omitempty"`
	ReasonCode     string     `json:"reasonCode,omitempty"`
	Message        string     `json:"message,omitempty"`
	OccurredAt     time.Time  `json:"occurredAt"`
}

// LogPublisher publica eventos como líneas de log (sin Redis).
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher construye el publicador.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

// Publish registra el evento.
func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	e := p.log.Info().
		Str("event", ev.Type).
		Str("organization_id", ev.OrganizationID).
		Str("invoice_id", ev.InvoiceID)
	if ev.CAE != "" {
		e = e.Str("cae", ev.CAE)
	}
	if ev.ReasonCode != "" {
		e = e.Str("reason_code", ev.ReasonCode).Str("message", ev.Message)
	}
	e.Msg("evento de factura")
	return nil
}
