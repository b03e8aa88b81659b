package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/pkg/afip"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

const invoiceColumns = `
	id, organization_id, external_reference, point_of_sale, invoice_type, concept, number,
	buyer_doc_type, buyer_doc_number, buyer_tax_condition, buyer_name, line_items, iva_breakdown,
	net_amount, exempt_amount, non_taxed_amount, iva_total, total, currency, exchange_rate,
	issue_date, service_from, service_to, payment_due, status, attempts, next_retry_at,
	last_error_code, last_error_message, cae, cae_expiry, qr_payload, qr_url,
	lease_owner, lease_until, version, created_at, queued_at, submitted_at, authorized_at, updated_at`

type lineItemRow struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Category    string          `json:"category"`
}

type ivaRow struct {
	AliquotID int             `json:"aliquot_id"`
	Rate      decimal.Decimal `json:"rate"`
	Base      decimal.Decimal `json:"base"`
	Amount    decimal.Decimal `json:"amount"`
}

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

// Create persiste la factura. Una referencia externa repetida devuelve domain.ErrDuplicate.
func (r *InvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	items, iva, err := encodeLines(inv)
	if err != nil {
		return err
	}
	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39, $40, $41)`
	_, err = r.q.Exec(ctx, query,
		inv.ID, inv.OrganizationID, inv.ExternalReference, inv.PointOfSale, inv.InvoiceType, inv.Concept, inv.Number,
		inv.Buyer.DocType, inv.Buyer.DocNumber, string(inv.Buyer.TaxCondition), inv.Buyer.Name, items, iva,
		inv.NetAmount, inv.ExemptAmount, inv.NonTaxedAmount, inv.IVATotal, inv.Total, inv.Currency, inv.ExchangeRate,
		inv.IssueDate, inv.ServiceFrom, inv.ServiceTo, inv.PaymentDue, inv.Status, inv.Attempts, inv.NextRetryAt,
		inv.LastErrorCode, inv.LastErrorMessage, inv.CAE, inv.CAEExpiry, inv.QRPayload, inv.QRURL,
		nullIfEmpty(inv.LeaseOwner), inv.LeaseUntil, inv.Version, inv.CreatedAt, inv.QueuedAt, inv.SubmittedAt, inv.AuthorizedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: referencia externa %q ya registrada", domain.ErrDuplicate, inv.ExternalReference)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Update persiste el estado si la versión no cambió y la factura no está autorizada.
// Incrementa inv.Version al confirmar.
func (r *InvoiceRepo) Update(ctx context.Context, inv *entity.Invoice) error {
	items, iva, err := encodeLines(inv)
	if err != nil {
		return err
	}
	const query = `
		UPDATE invoices
		SET invoice_type        = $3,
		    concept             = $4,
		    number              = $5,
		    buyer_doc_type      = $6,
		    buyer_doc_number    = $7,
		    buyer_tax_condition = $8,
		    buyer_name          = $9,
		    line_items          = $10,
		    iva_breakdown       = $11,
		    net_amount          = $12,
		    exempt_amount       = $13,
		    non_taxed_amount    = $14,
		    iva_total           = $15,
		    total               = $16,
		    status              = $17,
		    attempts            = $18,
		    next_retry_at       = $19,
		    last_error_code     = $20,
		    last_error_message  = $21,
		    cae                 = $22,
		    cae_expiry          = $23,
		    qr_payload          = $24,
		    qr_url              = $25,
		    queued_at           = $26,
		    submitted_at        = $27,
		    authorized_at       = $28,
		    updated_at          = $29,
		    version             = version + 1
		WHERE id = $1 AND version = $2 AND status <> 'authorized'`
	tag, err := r.q.Exec(ctx, query,
		inv.ID, inv.Version, inv.InvoiceType, inv.Concept, inv.Number,
		inv.Buyer.DocType, inv.Buyer.DocNumber, string(inv.Buyer.TaxCondition), inv.Buyer.Name, items, iva,
		inv.NetAmount, inv.ExemptAmount, inv.NonTaxedAmount, inv.IVATotal, inv.Total,
		inv.Status, inv.Attempts, inv.NextRetryAt, inv.LastErrorCode, inv.LastErrorMessage,
		inv.CAE, inv.CAEExpiry, inv.QRPayload, inv.QRURL, inv.QueuedAt, inv.SubmittedAt, inv.AuthorizedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isImmutableViolation(err) {
			return domain.ErrInvoiceImmutable
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: número %d ya asignado", domain.ErrDuplicate, inv.NumberValue())
		}
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.updateMiss(ctx, inv.ID)
	}
	inv.Version++
	return nil
}

// updateMiss explica por qué un UPDATE no afectó filas.
func (r *InvoiceRepo) updateMiss(ctx context.Context, id string) error {
	var status string
	err := r.q.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return fmt.Errorf("update invoice: %w", err)
	case status == entity.InvoiceStatusAuthorized:
		return domain.ErrInvoiceImmutable
	}
	return fmt.Errorf("%w: la factura %s fue modificada concurrentemente", domain.ErrConflict, id)
}

// GetByID obtiene una factura por ID. Devuelve nil, nil si no existe.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// GetByExternalReference busca por la clave de idempotencia del colaborador. nil, nil si no existe.
func (r *InvoiceRepo) GetByExternalReference(ctx context.Context, orgID, ref string) (*entity.Invoice, error) {
	if ref == "" {
		return nil, nil
	}
	inv, err := scanInvoice(r.q.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE organization_id = $1 AND external_reference = $2`, orgID, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice by reference: %w", err)
	}
	return inv, nil
}

// CountByStatus cuenta facturas de la organización en los estados dados.
func (r *InvoiceRepo) CountByStatus(ctx context.Context, orgID string, statuses ...string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM invoices WHERE organization_id = $1 AND status = ANY($2)`, orgID, statuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return n, nil
}

// ReleaseDrafts reencola las facturas draft de la organización. created_at no cambia.
func (r *InvoiceRepo) ReleaseDrafts(ctx context.Context, orgID string, now time.Time) (int, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoices
		SET status = 'pending', queued_at = $2, updated_at = $2, version = version + 1
		WHERE organization_id = $1 AND status = 'draft'`, orgID, now)
	if err != nil {
		return 0, fmt.Errorf("release drafts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Mapeo de filas ───────────────────────────────────────────────────────────

func scanInvoice(row pgx.Row) (*entity.Invoice, error) {
	var inv entity.Invoice
	var taxCondition string
	var items, iva []byte
	var leaseOwner *string
	err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.ExternalReference, &inv.PointOfSale, &inv.InvoiceType, &inv.Concept, &inv.Number,
		&inv.Buyer.DocType, &inv.Buyer.DocNumber, &taxCondition, &inv.Buyer.Name, &items, &iva,
		&inv.NetAmount, &inv.ExemptAmount, &inv.NonTaxedAmount, &inv.IVATotal, &inv.Total, &inv.Currency, &inv.ExchangeRate,
		&inv.IssueDate, &inv.ServiceFrom, &inv.ServiceTo, &inv.PaymentDue, &inv.Status, &inv.Attempts, &inv.NextRetryAt,
		&inv.LastErrorCode, &inv.LastErrorMessage, &inv.CAE, &inv.CAEExpiry, &inv.QRPayload, &inv.QRURL,
		&leaseOwner, &inv.LeaseUntil, &inv.Version, &inv.CreatedAt, &inv.QueuedAt, &inv.SubmittedAt, &inv.AuthorizedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Buyer.TaxCondition = afip.TaxCondition(taxCondition)
	if leaseOwner != nil {
		inv.LeaseOwner = *leaseOwner
	}
	if err := decodeLines(&inv, items, iva); err != nil {
		return nil, err
	}
	return &inv, nil
}

func encodeLines(inv *entity.Invoice) ([]byte, []byte, error) {
	items := make([]lineItemRow, 0, len(inv.LineItems))
	for _, it := range inv.LineItems {
		items = append(items, lineItemRow{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Category: string(it.Category)})
	}
	iva := make([]ivaRow, 0, len(inv.IVABreakdown))
	for _, s := range inv.IVABreakdown {
		iva = append(iva, ivaRow(s))
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, nil, fmt.Errorf("serializar líneas: %w", err)
	}
	ivaJSON, err := json.Marshal(iva)
	if err != nil {
		return nil, nil, fmt.Errorf("serializar IVA: %w", err)
	}
	return itemsJSON, ivaJSON, nil
}

func decodeLines(inv *entity.Invoice, itemsJSON, ivaJSON []byte) error {
	var items []lineItemRow
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return fmt.Errorf("leer líneas: %w", err)
	}
	var iva []ivaRow
	if len(ivaJSON) > 0 {
		if err := json.Unmarshal(ivaJSON, &iva); err != nil {
			return fmt.Errorf("leer IVA: %w", err)
		}
	}
	for _, it := range items {
		inv.LineItems = append(inv.LineItems, entity.LineItem{
			Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Category: afip.IVACategory(it.Category),
		})
	}
	for _, s := range iva {
		inv.IVABreakdown = append(inv.IVABreakdown, entity.IVASubtotal(s))
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
