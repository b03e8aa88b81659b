package afip

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// QRBaseURL plantilla de verificación de comprobantes (RG 4892).
const QRBaseURL = "https://www.afip.gob.ar/fe/qr/?p="

const (
	qrVersion     = 1
	qrAuthTypeCAE = "E"
	qrHost        = "www.afip.gob.ar"
	qrPath        = "/fe/qr/"
	caeDigits     = 14
)

// ErrInvalidQR agrupa errores de validación del QR.
var ErrInvalidQR = errors.New("QR de comprobante inválido")

// QRPayload estructura JSON del QR fiscal. Los importes viajan como números JSON.
type QRPayload struct {
	Ver        int         `json:"ver"`
	Fecha      string      `json:"fecha"`
	CUIT       int64       `json:"cuit"`
	PtoVta     int         `json:"ptoVta"`
	TipoCmp    int         `json:"tipoCmp"`
	NroCmp     int64       `json:"nroCmp"`
	Importe    json.Number `json:"importe"`
	Moneda     string      `json:"moneda"`
	Ctz        json.Number `json:"ctz"`
	TipoDocRec int         `json:"tipoDocRec,omitempty"`
	NroDocRec  int64       `json:"nroDocRec,omitempty"`
	TipoCodAut string      `json:"tipoCodAut"`
	CodAut     int64       `json:"codAut"`
}

// BuildQR arma el payload JSON y la URL de verificación de una factura con CAE.
func BuildQR(inv *entity.Invoice, issuerCUIT, cae string) (payload string, qrURL string, err error) {
	if inv.Number == nil {
		return "", "", fmt.Errorf("%w: factura sin número", ErrInvalidQR)
	}
	cuit, err := afip.ParseCUIT(issuerCUIT)
	if err != nil {
		return "", "", fmt.Errorf("%w: CUIT emisor: %v", ErrInvalidQR, err)
	}
	codAut, err := parseCAE(cae)
	if err != nil {
		return "", "", err
	}
	tipo, err := afip.InvoiceTypeCode(inv.InvoiceType)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidQR, err)
	}
	docNro, _ := strconv.ParseInt(inv.Buyer.DocNumber, 10, 64)
	p := QRPayload{
		Ver:        qrVersion,
		Fecha:      inv.IssueDate.In(ArgentinaTZ).Format("2006-01-02"),
		CUIT:       cuit,
		PtoVta:     inv.PointOfSale,
		TipoCmp:    tipo,
		NroCmp:     *inv.Number,
		Importe:    json.Number(inv.Total.StringFixed(2)),
		Moneda:     currencyOrDefault(inv.Currency),
		Ctz:        json.Number(rateOrOne(inv.ExchangeRate).String()),
		TipoDocRec: inv.Buyer.DocType,
		NroDocRec:  docNro,
		TipoCodAut: qrAuthTypeCAE,
		CodAut:     codAut,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("qr: serializar payload: %w", err)
	}
	return string(raw), QRBaseURL + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeQRURL extrae y decodifica el payload de una URL de verificación.
func DecodeQRURL(raw string) (*QRPayload, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: URL mal formada: %v", ErrInvalidQR, err)
	}
	if u.Scheme != "https" || u.Host != qrHost || u.Path != qrPath {
		return nil, fmt.Errorf("%w: la URL no corresponde a la verificación AFIP", ErrInvalidQR)
	}
	p := u.Query().Get("p")
	if p == "" {
		return nil, fmt.Errorf("%w: falta el parámetro p", ErrInvalidQR)
	}
	data, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		// algunos lectores convierten '+' en espacio
		data, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(p, " ", "+"))
		if err != nil {
			return nil, fmt.Errorf("%w: base64 inválido: %v", ErrInvalidQR, err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out QRPayload
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: JSON inválido: %v", ErrInvalidQR, err)
	}
	return &out, nil
}

// QRExpectation valores contra los que se contrasta un QR (campos cero se ignoran).
type QRExpectation struct {
	CUIT        int64
	PointOfSale int
	InvoiceType int
	Number      int64
	Total       decimal.Decimal
	CAE         string
}

// ValidateQR decodifica la URL y verifica consistencia interna y, si se indica, contra expect.
func ValidateQR(raw string, expect *QRExpectation) (*QRPayload, error) {
	p, err := DecodeQRURL(raw)
	if err != nil {
		return nil, err
	}
	var errs []error
	if p.Ver != qrVersion {
		errs = append(errs, fmt.Errorf("versión %d no soportada", p.Ver))
	}
	if _, err := ParseQRDate(p.Fecha); err != nil {
		errs = append(errs, fmt.Errorf("fecha %q inválida", p.Fecha))
	}
	if err := afip.ValidateCUIT(strconv.FormatInt(p.CUIT, 10)); err != nil {
		errs = append(errs, fmt.Errorf("cuit emisor: %v", err))
	}
	if _, ok := afip.InvoiceTypeFromCode(p.TipoCmp); !ok {
		errs = append(errs, fmt.Errorf("tipo de comprobante %d desconocido", p.TipoCmp))
	}
	if p.PtoVta <= 0 || p.NroCmp <= 0 {
		errs = append(errs, errors.New("punto de venta y número deben ser positivos"))
	}
	total, terr := decimal.NewFromString(p.Importe.String())
	if terr != nil || !total.IsPositive() {
		errs = append(errs, fmt.Errorf("importe %q inválido", p.Importe))
	}
	if p.TipoCodAut != qrAuthTypeCAE {
		errs = append(errs, fmt.Errorf("tipoCodAut %q no soportado", p.TipoCodAut))
	}
	if len(strconv.FormatInt(p.CodAut, 10)) != caeDigits {
		errs = append(errs, errors.New("CAE ausente o con longitud inválida"))
	}
	if expect != nil {
		errs = append(errs, compareExpectation(p, total, expect)...)
	}
	if len(errs) > 0 {
		return p, fmt.Errorf("%w: %w", ErrInvalidQR, errors.Join(errs...))
	}
	return p, nil
}

// ParseQRDate fecha del QR (yyyy-mm-dd).
func ParseQRDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, ArgentinaTZ)
}

func compareExpectation(p *QRPayload, total decimal.Decimal, e *QRExpectation) []error {
	var errs []error
	if e.CUIT != 0 && p.CUIT != e.CUIT {
		errs = append(errs, fmt.Errorf("cuit %d distinto del esperado %d", p.CUIT, e.CUIT))
	}
	if e.PointOfSale != 0 && p.PtoVta != e.PointOfSale {
		errs = append(errs, fmt.Errorf("punto de venta %d distinto del esperado %d", p.PtoVta, e.PointOfSale))
	}
	if e.InvoiceType != 0 && p.TipoCmp != e.InvoiceType {
		errs = append(errs, fmt.Errorf("tipo %d distinto del esperado %d", p.TipoCmp, e.InvoiceType))
	}
	if e.Number != 0 && p.NroCmp != e.Number {
		errs = append(errs, fmt.Errorf("número %d distinto del esperado %d", p.NroCmp, e.Number))
	}
	if !e.Total.IsZero() && !total.Equal(e.Total) {
		errs = append(errs, fmt.Errorf("importe %s distinto del esperado %s", total, e.Total))
	}
	if e.CAE != "" && strconv.FormatInt(p.CodAut, 10) != e.CAE {
		errs = append(errs, errors.New("CAE distinto del esperado"))
	}
	return errs
}

func parseCAE(cae string) (int64, error) {
	if len(cae) != caeDigits {
		return 0, fmt.Errorf("%w: CAE debe tener %d dígitos", ErrInvalidQR, caeDigits)
	}
	n, err := strconv.ParseInt(cae, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: CAE no numérico", ErrInvalidQR)
	}
	return n, nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return afip.CurrencyPesos
	}
	return c
}

func rateOrOne(r decimal.Decimal) decimal.Decimal {
	if r.IsZero() {
		return decimal.NewFromInt(1)
	}
	return r
}
