package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmitInvoiceRequest body para POST /api/invoices.
// InvoiceType vacío: se elige por la condición del emisor y del receptor.
// Fechas en formato YYYY-MM-DD (hora argentina); IssueDate vacío = hoy.
type SubmitInvoiceRequest struct {
	ExternalReference string               `json:"external_reference"`
	PointOfSale       int                  `json:"point_of_sale"`
	InvoiceType       string               `json:"invoice_type,omitempty"`
	Concept           int                  `json:"concept"`
	IssueDate         string               `json:"issue_date,omitempty"`
	ServiceFrom       string               `json:"service_from,omitempty"`
	ServiceTo         string               `json:"service_to,omitempty"`
	PaymentDue        string               `json:"payment_due,omitempty"`
	Currency          string               `json:"currency,omitempty"`
	ExchangeRate      decimal.Decimal      `json:"exchange_rate,omitempty"`
	Buyer             BuyerRequest         `json:"buyer"`
	Items             []InvoiceItemRequest `json:"items"`
}

// BuyerRequest receptor. DocType 0 = deducir (CUIT, DNI o Consumidor Final).
type BuyerRequest struct {
	DocType      int    `json:"doc_type,omitempty"`
	DocNumber    string `json:"doc_number,omitempty"`
	TaxCondition string `json:"tax_condition,omitempty"`
	Name         string `json:"name,omitempty"`
}

// InvoiceItemRequest línea: Category es la alícuota ("21", "10.5", ...), "exento" o "no_gravado".
type InvoiceItemRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Category    string          `json:"category"`
}

// InvoiceResponse factura para GET /api/invoices/:id.
type InvoiceResponse struct {
	InvoiceStatusDTO
	OrganizationID    string               `json:"organization_id"`
	ExternalReference string               `json:"external_reference"`
	PointOfSale       int                  `json:"point_of_sale"`
	InvoiceType       string               `json:"invoice_type"`
	Concept           int                  `json:"concept"`
	Number            *int64               `json:"number,omitempty"`
	IssueDate         string               `json:"issue_date"`
	Buyer             BuyerRequest         `json:"buyer"`
	Items             []InvoiceItemRequest `json:"items"`
	IVA               []IVASubtotalDTO     `json:"iva,omitempty"`
	NetAmount         decimal.Decimal      `json:"net_amount"`
	ExemptAmount      decimal.Decimal      `json:"exempt_amount"`
	NonTaxedAmount    decimal.Decimal      `json:"non_taxed_amount"`
	IVATotal          decimal.Decimal      `json:"iva_total"`
	Total             decimal.Decimal      `json:"total"`
	Currency          string               `json:"currency"`
	ExchangeRate      decimal.Decimal      `json:"exchange_rate"`
}

// IVASubtotalDTO subtotal por alícuota.
type IVASubtotalDTO struct {
	AliquotID int             `json:"aliquot_id"`
	Rate      decimal.Decimal `json:"rate"`
	Base      decimal.Decimal `json:"base"`
	Amount    decimal.Decimal `json:"amount"`
}

// InvoiceStatusDTO respuesta ligera de GET /api/invoices/:id/status.
// El colaborador consulta hasta que status sea authorized, rejected o parked.
type InvoiceStatusDTO struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Attempts         int        `json:"attempts"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	LastErrorCode    string     `json:"last_error_code,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	CAE              string     `json:"cae,omitempty"`
	CAEExpiry        *time.Time `json:"cae_expiry,omitempty"`
	QRURL            string     `json:"qr_url,omitempty"`
	AuthorizedAt     *time.Time `json:"authorized_at,omitempty"`
}

// OrganizationStatusResponse GET /api/afip/status.
type OrganizationStatusResponse struct {
	OrganizationID string         `json:"organization_id"`
	Circuit        CircuitDTO     `json:"circuit"`
	Panic          PanicDTO       `json:"panic"`
	Queue          map[string]int `json:"queue"`
	Window         WindowStatsDTO `json:"window"`
}

// CircuitDTO estado del circuit breaker.
type CircuitDTO struct {
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	OpenForSeconds      float64    `json:"open_for_seconds,omitempty"`
}

// PanicDTO estado del modo pánico.
type PanicDTO struct {
	Active        bool       `json:"active"`
	Reason        string     `json:"reason,omitempty"`
	TriggeredAt   *time.Time `json:"triggered_at,omitempty"`
	AutoResolveAt *time.Time `json:"auto_resolve_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// WindowStatsDTO agregado de la ventana móvil.
type WindowStatsDTO struct {
	Samples           int     `json:"samples"`
	Failures          int     `json:"failures"`
	FailureRate       float64 `json:"failure_rate"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
}

// TaxpayerResponse GET /api/taxpayers/:cuit.
type TaxpayerResponse struct {
	CUIT         string    `json:"cuit"`
	Valid        bool      `json:"valid"`
	TaxCondition string    `json:"tax_condition,omitempty"`
	LegalName    string    `json:"legal_name,omitempty"`
	Status       string    `json:"status,omitempty"`
	PersonType   string    `json:"person_type,omitempty"`
	Address      string    `json:"address,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// QRValidationResponse GET /api/qr/validate.
type QRValidationResponse struct {
	Valid   bool                   `json:"valid"`
	Errors  []string               `json:"errors,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}
