package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// Estados del ciclo de autorización AFIP.
const (
	InvoiceStatusDraft      = "draft"      // Retenida por modo pánico, sin intentos de autorización
	InvoiceStatusPending    = "pending"    // En cola, sin número reservado
	InvoiceStatusReserved   = "reserved"   // Número reservado, pendiente de envío
	InvoiceStatusSubmitted  = "submitted"  // FECAESolicitar en curso
	InvoiceStatusAuthorized = "authorized" // CAE otorgado, inmutable
	InvoiceStatusRejected   = "rejected"   // Rechazo de negocio, sin reintento
	InvoiceStatusParked     = "parked"     // Reintentos agotados, requiere atención manual
	InvoiceStatusArchived   = "archived"   // Archivada por el colaborador antes de autorizarse
)

// Buyer datos del receptor del comprobante.
type Buyer struct {
	DocType      int // 80 CUIT, 96 DNI, 99 Consumidor Final
	DocNumber    string
	TaxCondition afip.TaxCondition
	Name         string
}

// LineItem línea de factura tal como la envía el colaborador.
type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Category    afip.IVACategory
}

// IVASubtotal agrupa base e importe por alícuota (nodo AlicIva).
type IVASubtotal struct {
	AliquotID int
	Rate      decimal.Decimal
	Base      decimal.Decimal
	Amount    decimal.Decimal
}

// Invoice representa un comprobante en su recorrido hacia el CAE.
type Invoice struct {
	ID                string
	OrganizationID    string
	ExternalReference string // clave de idempotencia del colaborador
	PointOfSale       int
	InvoiceType       string // A, B, C
	Concept           int    // 1 productos, 2 servicios, 3 ambos
	Number            *int64 // nil hasta la reserva
	Buyer             Buyer
	LineItems         []LineItem
	IVABreakdown      []IVASubtotal
	NetAmount         decimal.Decimal
	ExemptAmount      decimal.Decimal
	NonTaxedAmount    decimal.Decimal
	IVATotal          decimal.Decimal
	Total             decimal.Decimal
	Currency          string
	ExchangeRate      decimal.Decimal
	IssueDate         time.Time
	ServiceFrom       *time.Time
	ServiceTo         *time.Time
	PaymentDue        *time.Time

	Status           string
	Attempts         int
	NextRetryAt      *time.Time
	LastErrorCode    string
	LastErrorMessage string
	CAE              string
	CAEExpiry        *time.Time
	QRPayload        string
	QRURL            string

	LeaseOwner string
	LeaseUntil *time.Time
	Version    int

	CreatedAt    time.Time
	QueuedAt     time.Time // entrada a la cola pending (medición de latencia)
	SubmittedAt  *time.Time
	AuthorizedAt *time.Time
	UpdatedAt    time.Time
}

// IsAuthorized indica si los campos fiscales ya quedaron fijados.
func (i *Invoice) IsAuthorized() bool { return i.Status == InvoiceStatusAuthorized }

// IsFinal indica si el worker ya no debe procesarla.
func (i *Invoice) IsFinal() bool {
	switch i.Status {
	case InvoiceStatusAuthorized, InvoiceStatusRejected, InvoiceStatusArchived, InvoiceStatusParked:
		return true
	}
	return false
}

// HasNumber indica si ya se consumió un número de la secuencia.
func (i *Invoice) HasNumber() bool { return i.Number != nil }

// NumberValue devuelve el número reservado o 0.
func (i *Invoice) NumberValue() int64 {
	if i.Number == nil {
		return 0
	}
	return *i.Number
}

// Reserve fija el número reservado. Un número ya asignado nunca se reemplaza.
func (i *Invoice) Reserve(number int64, now time.Time) error {
	if i.Number != nil {
		return fmt.Errorf("%w: la factura %s ya tiene el número %d", domain.ErrConflict, i.ID, *i.Number)
	}
	if i.Status != InvoiceStatusPending {
		return fmt.Errorf("%w: no se puede reservar número en estado %s", domain.ErrConflict, i.Status)
	}
	i.Number = &number
	i.Status = InvoiceStatusReserved
	i.UpdatedAt = now
	return nil
}

// MarkSubmitted registra el envío a FECAESolicitar.
func (i *Invoice) MarkSubmitted(now time.Time) error {
	if i.Number == nil {
		return fmt.Errorf("%w: factura %s sin número reservado", domain.ErrConflict, i.ID)
	}
	if i.Status != InvoiceStatusReserved && i.Status != InvoiceStatusSubmitted {
		return fmt.Errorf("%w: no se puede enviar en estado %s", domain.ErrConflict, i.Status)
	}
	i.Status = InvoiceStatusSubmitted
	i.Attempts++
	i.NextRetryAt = nil
	i.SubmittedAt = &now
	i.UpdatedAt = now
	return nil
}

// MarkAuthorized fija CAE, vencimiento y QR. A partir de aquí la factura es inmutable.
func (i *Invoice) MarkAuthorized(cae string, expiry time.Time, qrPayload, qrURL string, now time.Time) error {
	if i.IsAuthorized() {
		return domain.ErrInvoiceImmutable
	}
	if i.Status != InvoiceStatusSubmitted {
		return fmt.Errorf("%w: no se puede autorizar en estado %s", domain.ErrConflict, i.Status)
	}
	i.Status = InvoiceStatusAuthorized
	i.CAE = cae
	i.CAEExpiry = &expiry
	i.QRPayload = qrPayload
	i.QRURL = qrURL
	i.AuthorizedAt = &now
	i.NextRetryAt = nil
	i.LastErrorCode = ""
	i.LastErrorMessage = ""
	i.UpdatedAt = now
	return nil
}

// MarkRejected registra un rechazo de negocio. No habrá reintentos.
func (i *Invoice) MarkRejected(code, message string, now time.Time) error {
	if i.IsAuthorized() {
		return domain.ErrInvoiceImmutable
	}
	i.Status = InvoiceStatusRejected
	i.LastErrorCode = code
	i.LastErrorMessage = message
	i.NextRetryAt = nil
	i.UpdatedAt = now
	return nil
}

// ScheduleRetry deja la factura reservada con el próximo intento programado.
func (i *Invoice) ScheduleRetry(at time.Time, code, message string, now time.Time) error {
	if i.IsAuthorized() {
		return domain.ErrInvoiceImmutable
	}
	if i.Number != nil {
		i.Status = InvoiceStatusReserved
	}
	i.NextRetryAt = &at
	i.LastErrorCode = code
	i.LastErrorMessage = message
	i.UpdatedAt = now
	return nil
}

// Park saca la factura del circuito automático (reintentos agotados o credencial inválida).
func (i *Invoice) Park(code, message string, now time.Time) error {
	if i.IsAuthorized() {
		return domain.ErrInvoiceImmutable
	}
	i.Status = InvoiceStatusParked
	i.NextRetryAt = nil
	i.LastErrorCode = code
	i.LastErrorMessage = message
	i.UpdatedAt = now
	return nil
}

// Archive impide nuevos reintentos. El número reservado sigue consumido.
func (i *Invoice) Archive(now time.Time) error {
	switch i.Status {
	case InvoiceStatusAuthorized:
		return domain.ErrInvoiceImmutable
	case InvoiceStatusArchived:
		return nil
	case InvoiceStatusSubmitted:
		return fmt.Errorf("%w: la factura tiene un envío en curso", domain.ErrConflict)
	}
	if i.LeaseUntil != nil && i.LeaseUntil.After(now) {
		return fmt.Errorf("%w: la factura está siendo procesada", domain.ErrConflict)
	}
	i.Status = InvoiceStatusArchived
	i.NextRetryAt = nil
	i.UpdatedAt = now
	return nil
}

// Requeue devuelve una factura parked a la cola con su mismo número.
func (i *Invoice) Requeue(now time.Time) error {
	if i.Status != InvoiceStatusParked {
		return fmt.Errorf("%w: solo se reencolan facturas en estado parked (actual %s)", domain.ErrConflict, i.Status)
	}
	if i.Number != nil {
		i.Status = InvoiceStatusReserved
	} else {
		i.Status = InvoiceStatusPending
	}
	i.Attempts = 0
	i.NextRetryAt = &now
	i.QueuedAt = now
	i.UpdatedAt = now
	return nil
}

// Clone copia profunda (repositorios en memoria y snapshots de transacción).
func (i *Invoice) Clone() *Invoice {
	c := *i
	c.LineItems = append([]LineItem(nil), i.LineItems...)
	c.IVABreakdown = append([]IVASubtotal(nil), i.IVABreakdown...)
	c.Number = clonePtr(i.Number)
	c.ServiceFrom = clonePtr(i.ServiceFrom)
	c.ServiceTo = clonePtr(i.ServiceTo)
	c.PaymentDue = clonePtr(i.PaymentDue)
	c.NextRetryAt = clonePtr(i.NextRetryAt)
	c.CAEExpiry = clonePtr(i.CAEExpiry)
	c.LeaseUntil = clonePtr(i.LeaseUntil)
	c.SubmittedAt = clonePtr(i.SubmittedAt)
	c.AuthorizedAt = clonePtr(i.AuthorizedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
