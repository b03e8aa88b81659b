package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
)

var (
	_ repository.InvoiceRepository = (*InvoiceRepo)(nil)
	_ repository.InvoiceQueue      = (*InvoiceQueue)(nil)
)

// InvoiceRepo facturas en memoria. Devuelve y almacena copias.
type InvoiceRepo struct {
	s      *Store
	locked bool
}

func (r *InvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	defer r.s.lock(r.locked)()
	if _, ok := r.s.invoices[inv.ID]; ok {
		return fmt.Errorf("%w: factura %s", domain.ErrDuplicate, inv.ID)
	}
	for _, other := range r.s.invoices {
		if other.OrganizationID != inv.OrganizationID {
			continue
		}
		if inv.ExternalReference != "" && other.ExternalReference == inv.ExternalReference {
			return fmt.Errorf("%w: referencia externa %s", domain.ErrDuplicate, inv.ExternalReference)
		}
		if sameNumber(other, inv) {
			return fmt.Errorf("%w: número %d", domain.ErrDuplicate, inv.NumberValue())
		}
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	r.s.invoices[inv.ID] = inv.Clone()
	return nil
}

// Update replica el UPDATE optimista de Postgres: las columnas de lease no se tocan.
func (r *InvoiceRepo) Update(_ context.Context, inv *entity.Invoice) error {
	defer r.s.lock(r.locked)()
	cur, ok := r.s.invoices[inv.ID]
	if !ok {
		return fmt.Errorf("%w: factura %s", domain.ErrNotFound, inv.ID)
	}
	if cur.IsAuthorized() {
		return domain.ErrInvoiceImmutable
	}
	if cur.Version != inv.Version {
		return fmt.Errorf("%w: factura %s versión %d, actual %d", domain.ErrConflict, inv.ID, inv.Version, cur.Version)
	}
	if inv.Number != nil {
		for _, other := range r.s.invoices {
			if other.ID != inv.ID && other.OrganizationID == inv.OrganizationID && sameNumber(other, inv) {
				return fmt.Errorf("%w: número %d", domain.ErrDuplicate, inv.NumberValue())
			}
		}
	}
	inv.Version++
	next := inv.Clone()
	next.LeaseOwner = cur.LeaseOwner
	next.LeaseUntil = cur.LeaseUntil
	next.CreatedAt = cur.CreatedAt
	r.s.invoices[inv.ID] = next
	return nil
}

func (r *InvoiceRepo) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	defer r.s.lock(r.locked)()
	if inv, ok := r.s.invoices[id]; ok {
		return inv.Clone(), nil
	}
	return nil, nil
}

func (r *InvoiceRepo) GetByExternalReference(_ context.Context, orgID, ref string) (*entity.Invoice, error) {
	defer r.s.lock(r.locked)()
	for _, inv := range r.s.invoices {
		if inv.OrganizationID == orgID && inv.ExternalReference == ref {
			return inv.Clone(), nil
		}
	}
	return nil, nil
}

func (r *InvoiceRepo) CountByStatus(_ context.Context, orgID string, statuses ...string) (int, error) {
	defer r.s.lock(r.locked)()
	n := 0
	for _, inv := range r.s.invoices {
		if inv.OrganizationID == orgID && contains(statuses, inv.Status) {
			n++
		}
	}
	return n, nil
}

func (r *InvoiceRepo) ReleaseDrafts(_ context.Context, orgID string, now time.Time) (int, error) {
	defer r.s.lock(r.locked)()
	n := 0
	for id, inv := range r.s.invoices {
		if inv.OrganizationID != orgID || inv.Status != entity.InvoiceStatusDraft {
			continue
		}
		c := inv.Clone()
		c.Status = entity.InvoiceStatusPending
		c.QueuedAt = now
		c.UpdatedAt = now
		c.Version++
		r.s.invoices[id] = c
		n++
	}
	return n, nil
}

// InvoiceQueue cola sobre el almacén en memoria.
type InvoiceQueue struct {
	s *Store
}

// Claim toma la factura elegible más antigua por created_at.
func (q *InvoiceQueue) Claim(_ context.Context, req repository.ClaimRequest) (*entity.Invoice, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	var next *entity.Invoice
	for _, inv := range q.s.invoices {
		if !claimable(inv, req) {
			continue
		}
		if next == nil || inv.CreatedAt.Before(next.CreatedAt) {
			next = inv
		}
	}
	if next == nil {
		return nil, nil
	}
	c := next.Clone()
	until := req.Now.Add(req.Lease)
	c.LeaseOwner = req.Owner
	c.LeaseUntil = &until
	c.Version++
	q.s.invoices[c.ID] = c
	return c.Clone(), nil
}

func (q *InvoiceQueue) ReleaseLease(_ context.Context, invoiceID, owner string) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	inv, ok := q.s.invoices[invoiceID]
	if !ok || inv.LeaseOwner != owner {
		return nil
	}
	c := inv.Clone()
	c.LeaseOwner = ""
	c.LeaseUntil = nil
	q.s.invoices[invoiceID] = c
	return nil
}

func claimable(inv *entity.Invoice, req repository.ClaimRequest) bool {
	switch inv.Status {
	case entity.InvoiceStatusPending, entity.InvoiceStatusReserved, entity.InvoiceStatusSubmitted:
	default:
		return false
	}
	if inv.NextRetryAt != nil && inv.NextRetryAt.After(req.Now) {
		return false
	}
	if inv.LeaseUntil != nil && !inv.LeaseUntil.Before(req.Now) {
		return false
	}
	return !contains(req.ExcludedOrgs, inv.OrganizationID)
}

func sameNumber(a, b *entity.Invoice) bool {
	return a.Number != nil && b.Number != nil &&
		a.PointOfSale == b.PointOfSale && a.InvoiceType == b.InvoiceType && *a.Number == *b.Number
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
