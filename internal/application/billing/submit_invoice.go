package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/application/dto"
	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// InvoiceUseCase recepción de facturas del colaborador y operaciones de consulta.
type InvoiceUseCase struct {
	invoices repository.InvoiceRepository
	creds    repository.CredentialRepository
	panics   PanicStore
	log      zerolog.Logger
	now      func() time.Time
}

// NewInvoiceUseCase construye el caso de uso.
func NewInvoiceUseCase(invoices repository.InvoiceRepository, creds repository.CredentialRepository, panics PanicStore, log zerolog.Logger) *InvoiceUseCase {
	return &InvoiceUseCase{
		invoices: invoices,
		creds:    creds,
		panics:   panics,
		log:      log.With().Str("component", "invoices").Logger(),
		now:      time.Now,
	}
}

// Submit valida el borrador, calcula importes y lo encola. Idempotente por external_reference:
// un reenvío devuelve la factura existente sin crear otra.
// Con modo pánico activo la factura queda en draft hasta la resolución.
func (uc *InvoiceUseCase) Submit(ctx context.Context, orgID string, in dto.SubmitInvoiceRequest) (*dto.InvoiceStatusDTO, error) {
	ref := strings.TrimSpace(in.ExternalReference)
	if ref == "" {
		return nil, domain.NewPermanent("external_reference", "la referencia externa es obligatoria")
	}
	if existing, err := uc.invoices.GetByExternalReference(ctx, orgID, ref); err != nil {
		return nil, err
	} else if existing != nil {
		return toStatusDTO(existing), nil
	}

	cred, err := uc.creds.GetByOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.PermanentRequestError{Code: "SIN_CREDENCIAL", Message: "la organización no tiene credencial AFIP configurada"}
		}
		return nil, err
	}
	if !cred.AllowsPointOfSale(in.PointOfSale) {
		return nil, &domain.PermanentRequestError{
			Code:    "PUNTO_VENTA",
			Field:   "point_of_sale",
			Message: fmt.Sprintf("el punto de venta %d no está habilitado para la organización", in.PointOfSale),
		}
	}

	built, err := uc.build(cred, in)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	inv := &entity.Invoice{
		ID:                uuid.NewString(),
		OrganizationID:    orgID,
		ExternalReference: ref,
		PointOfSale:       in.PointOfSale,
		Status:            entity.InvoiceStatusPending,
		Version:           1,
		CreatedAt:         now,
		QueuedAt:          now,
		UpdatedAt:         now,
	}
	afipdomain.ApplyTotals(inv, built)

	panicState, err := uc.panics.GetPanic(ctx, orgID)
	if err != nil {
		uc.log.Warn().Err(err).Str("organization_id", orgID).Msg("estado de pánico no disponible, se encola normalmente")
	} else if panicState.Active {
		inv.Status = entity.InvoiceStatusDraft
	}

	if err := uc.invoices.Create(ctx, inv); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			existing, gerr := uc.invoices.GetByExternalReference(ctx, orgID, ref)
			if gerr == nil && existing != nil {
				return toStatusDTO(existing), nil
			}
		}
		return nil, err
	}
	uc.log.Info().
		Str("organization_id", orgID).
		Str("invoice_id", inv.ID).
		Str("external_reference", ref).
		Str("invoice_type", inv.InvoiceType).
		Str("status", inv.Status).
		Str("total", inv.Total.StringFixed(2)).
		Msg("factura recibida")
	return toStatusDTO(inv), nil
}

func (uc *InvoiceUseCase) build(cred *entity.Credential, in dto.SubmitInvoiceRequest) (*afipdomain.Built, error) {
	buyerCond := afip.TaxCondition(in.Buyer.TaxCondition)
	if buyerCond == "" {
		buyerCond = afip.TaxConditionConsumidorFinal
	}
	invoiceType := strings.ToUpper(strings.TrimSpace(in.InvoiceType))
	if invoiceType == "" {
		t, err := afipdomain.ChooseInvoiceType(cred.TaxCondition, buyerCond)
		if err != nil {
			return nil, err
		}
		invoiceType = t
	}

	issue := uc.now().In(afipdomain.ArgentinaTZ)
	if in.IssueDate != "" {
		d, err := parseDay("issue_date", in.IssueDate)
		if err != nil {
			return nil, err
		}
		issue = *d
	}
	serviceFrom, err := parseDay("service_from", in.ServiceFrom)
	if err != nil {
		return nil, err
	}
	serviceTo, err := parseDay("service_to", in.ServiceTo)
	if err != nil {
		return nil, err
	}
	paymentDue, err := parseDay("payment_due", in.PaymentDue)
	if err != nil {
		return nil, err
	}

	items := make([]entity.LineItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = entity.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Category:    afip.IVACategory(it.Category),
		}
	}
	return afipdomain.BuildInvoice(afipdomain.BuildInput{
		InvoiceType: invoiceType,
		Concept:     in.Concept,
		Buyer: entity.Buyer{
			DocType:      in.Buyer.DocType,
			DocNumber:    in.Buyer.DocNumber,
			TaxCondition: buyerCond,
			Name:         in.Buyer.Name,
		},
		Items:        items,
		IssueDate:    issue,
		ServiceFrom:  serviceFrom,
		ServiceTo:    serviceTo,
		PaymentDue:   paymentDue,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
	})
}

// Get devuelve la factura si pertenece a la organización.
func (uc *InvoiceUseCase) Get(ctx context.Context, orgID, id string) (*entity.Invoice, error) {
	inv, err := uc.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.OrganizationID != orgID {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

// GetResponse factura completa para la API.
func (uc *InvoiceUseCase) GetResponse(ctx context.Context, orgID, id string) (*dto.InvoiceResponse, error) {
	inv, err := uc.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	return ToInvoiceResponse(inv), nil
}

// Status respuesta ligera para polling.
func (uc *InvoiceUseCase) Status(ctx context.Context, orgID, id string) (*dto.InvoiceStatusDTO, error) {
	inv, err := uc.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	return toStatusDTO(inv), nil
}

// Archive impide nuevos intentos de una factura no autorizada.
func (uc *InvoiceUseCase) Archive(ctx context.Context, orgID, id string) (*dto.InvoiceStatusDTO, error) {
	return uc.transition(ctx, orgID, id, "archivada", (*entity.Invoice).Archive)
}

// Retry reencola una factura parked conservando su número.
func (uc *InvoiceUseCase) Retry(ctx context.Context, orgID, id string) (*dto.InvoiceStatusDTO, error) {
	return uc.transition(ctx, orgID, id, "reencolada", (*entity.Invoice).Requeue)
}

func (uc *InvoiceUseCase) transition(ctx context.Context, orgID, id, verb string, apply func(*entity.Invoice, time.Time) error) (*dto.InvoiceStatusDTO, error) {
	inv, err := uc.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := apply(inv, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	uc.log.Info().Str("organization_id", orgID).Str("invoice_id", id).Str("status", inv.Status).Msg("factura " + verb)
	return toStatusDTO(inv), nil
}

func parseDay(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, afipdomain.ArgentinaTZ)
	if err != nil {
		return nil, domain.NewPermanent(field, "fecha %q inválida, formato esperado YYYY-MM-DD", s)
	}
	return &t, nil
}

// ── Mapeo a DTO ──────────────────────────────────────────────────────────────

func toStatusDTO(inv *entity.Invoice) *dto.InvoiceStatusDTO {
	return &dto.InvoiceStatusDTO{
		ID:               inv.ID,
		Status:           inv.Status,
		Attempts:         inv.Attempts,
		NextRetryAt:      inv.NextRetryAt,
		LastErrorCode:    inv.LastErrorCode,
		LastErrorMessage: inv.LastErrorMessage,
		CAE:              inv.CAE,
		CAEExpiry:        inv.CAEExpiry,
		QRURL:            inv.QRURL,
		AuthorizedAt:     inv.AuthorizedAt,
	}
}

// ToInvoiceResponse mapea la entidad a la respuesta de la API.
func ToInvoiceResponse(inv *entity.Invoice) *dto.InvoiceResponse {
	out := &dto.InvoiceResponse{
		InvoiceStatusDTO:  *toStatusDTO(inv),
		OrganizationID:    inv.OrganizationID,
		ExternalReference: inv.ExternalReference,
		PointOfSale:       inv.PointOfSale,
		InvoiceType:       inv.InvoiceType,
		Concept:           inv.Concept,
		Number:            inv.Number,
		IssueDate:         inv.IssueDate.In(afipdomain.ArgentinaTZ).Format(time.DateOnly),
		Buyer: dto.BuyerRequest{
			DocType:      inv.Buyer.DocType,
			DocNumber:    inv.Buyer.DocNumber,
			TaxCondition: string(inv.Buyer.TaxCondition),
			Name:         inv.Buyer.Name,
		},
		NetAmount:      inv.NetAmount,
		ExemptAmount:   inv.ExemptAmount,
		NonTaxedAmount: inv.NonTaxedAmount,
		IVATotal:       inv.IVATotal,
		Total:          inv.Total,
		Currency:       inv.Currency,
		ExchangeRate:   inv.ExchangeRate,
	}
	for _, it := range inv.LineItems {
		out.Items = append(out.Items, dto.InvoiceItemRequest{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Category:    string(it.Category),
		})
	}
	for _, s := range inv.IVABreakdown {
		out.IVA = append(out.IVA, dto.IVASubtotalDTO{AliquotID: s.AliquotID, Rate: s.Rate, Base: s.Base, Amount: s.Amount})
	}
	return out
}
