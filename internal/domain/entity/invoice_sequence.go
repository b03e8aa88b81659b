package entity

import "time"

// SequenceKey identifica una secuencia de numeración: (organización, punto de venta, tipo).
type SequenceKey struct {
	OrganizationID string
	PointOfSale    int
	InvoiceType    string
}

// InvoiceSequence último número consumido para la clave.
type InvoiceSequence struct {
	SequenceKey
	LastNumber int64
	UpdatedAt  time.Time
}

// SequenceKeyOf devuelve la clave de secuencia de la factura.
func SequenceKeyOf(inv *Invoice) SequenceKey {
	return SequenceKey{OrganizationID: inv.OrganizationID, PointOfSale: inv.PointOfSale, InvoiceType: inv.InvoiceType}
}
