package afip

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
	pkgafip "github.com/jhoicas/afip-core/pkg/afip"
)

// ── Estructuras getPersona_v2 ─────────────────────────────────────────────────

type getPersonaRequest struct {
	XMLName          xml.Name `xml:"a5:getPersona_v2"`
	XmlnsA5          string   `xml:"xmlns:a5,attr"`
	Token            string   `xml:"token"`
	Sign             string   `xml:"sign"`
	CuitRepresentada int64    `xml:"cuitRepresentada"`
	IdPersona        int64    `xml:"idPersona"`
}

type getPersonaResponse struct {
	Persona personaReturn `xml:"personaReturn"`
}

type padronImpuesto struct {
	IdImpuesto     int    `xml:"idImpuesto"`
	Descripcion    string `xml:"descripcionImpuesto"`
	EstadoImpuesto string `xml:"estadoImpuesto"`
}

type personaReturn struct {
	DatosGenerales *struct {
		IdPersona       int64  `xml:"idPersona"`
		TipoPersona     string `xml:"tipoPersona"`
		EstadoClave     string `xml:"estadoClave"`
		RazonSocial     string `xml:"razonSocial"`
		Apellido        string `xml:"apellido"`
		Nombre          string `xml:"nombre"`
		DomicilioFiscal struct {
			Direccion            string `xml:"direccion"`
			Localidad            string `xml:"localidad"`
			DescripcionProvincia string `xml:"descripcionProvincia"`
		} `xml:"domicilioFiscal"`
	} `xml:"datosGenerales"`
	DatosRegimenGeneral *struct {
		Impuestos []padronImpuesto `xml:"impuesto"`
	} `xml:"datosRegimenGeneral"`
	DatosMonotributo *struct {
		Impuestos []padronImpuesto `xml:"impuesto"`
	} `xml:"datosMonotributo"`
	ErrorConstancia *struct {
		Errores []string `xml:"error"`
	} `xml:"errorConstancia"`
}

// ── Cliente ───────────────────────────────────────────────────────────────────

// PadronConfig parámetros del cliente Padrón A5.
type PadronConfig struct {
	Endpoints Endpoints
	Timeout   time.Duration
}

// PadronClient consulta getPersona_v2 (implementa taxpayer.Registry).
type PadronClient struct {
	soap *soapCaller
	cfg  PadronConfig
	now  func() time.Time
}

// NewPadronClient construye el cliente. cfg.Endpoints vacío usa los endpoints oficiales.
func NewPadronClient(cfg PadronConfig, log zerolog.Logger, m *metrics.Metrics) *PadronClient {
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = PadronEndpoints()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &PadronClient{soap: newSOAPCaller(cfg.Timeout, log.With().Str("component", "padron").Logger(), m), cfg: cfg, now: time.Now}
}

// GetPersona consulta el CUIT en el padrón. Devuelve domain.ErrNotFound si no existe.
func (c *PadronClient) GetPersona(ctx context.Context, s afipdomain.Session, cuit string) (*entity.Taxpayer, error) {
	id, err := pkgafip.ParseCUIT(cuit)
	if err != nil {
		return nil, &domain.PermanentRequestError{Code: "CUIT_INVALIDO", Field: "cuit", Message: err.Error()}
	}
	url, err := c.cfg.Endpoints.For(s.Environment)
	if err != nil {
		return nil, err
	}
	res, err := c.soap.post(ctx, "getPersona_v2", url, "", &getPersonaRequest{
		XmlnsA5: padronNS, Token: s.Token, Sign: s.Sign, CuitRepresentada: s.CUIT, IdPersona: id,
	})
	if err != nil {
		return nil, err
	}
	out, fault, err := decode[getPersonaResponse]("getPersona_v2", res)
	if err != nil {
		return nil, err
	}
	if fault != nil {
		return nil, classifyPadronFault(fault)
	}
	return c.toTaxpayer(cuit, &out.Persona)
}

func (c *PadronClient) toTaxpayer(cuit string, p *personaReturn) (*entity.Taxpayer, error) {
	if p.DatosGenerales == nil {
		if p.ErrorConstancia != nil && len(p.ErrorConstancia.Errores) > 0 {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.TransientServiceError{Op: "getPersona_v2", Code: "VACIA", Message: "respuesta sin datos generales"}
	}
	g := p.DatosGenerales
	t := &entity.Taxpayer{
		CUIT:       pkgafip.FormatCUIT(cuit),
		Valid:      true,
		Status:     strings.ToUpper(strings.TrimSpace(g.EstadoClave)),
		PersonType: g.TipoPersona,
		LegalName:  g.RazonSocial,
		CheckedAt:  c.now(),
	}
	if t.LegalName == "" {
		t.LegalName = strings.TrimSpace(g.Apellido + " " + g.Nombre)
	}
	if d := g.DomicilioFiscal; d.Direccion != "" {
		t.Address = strings.Join(nonEmpty(d.Direccion, d.Localidad, d.DescripcionProvincia), ", ")
	}
	var active []int
	if p.DatosRegimenGeneral != nil {
		for _, imp := range p.DatosRegimenGeneral.Impuestos {
			if imp.EstadoImpuesto == "" || strings.EqualFold(imp.EstadoImpuesto, "AC") || strings.EqualFold(imp.EstadoImpuesto, "ACTIVO") {
				active = append(active, imp.IdImpuesto)
			}
		}
	}
	t.TaxCondition = afipdomain.TaxConditionFromRegistry(active, p.DatosMonotributo != nil)
	return t, nil
}

func classifyPadronFault(f *soapFault) error {
	msg := strings.ToLower(f.FaultString)
	switch {
	case strings.Contains(msg, "no existe persona"):
		return domain.ErrNotFound
	case strings.Contains(msg, "token"), strings.Contains(msg, "firma"), strings.Contains(msg, "sign"):
		return &domain.AuthError{Code: f.Code(), Message: f.FaultString}
	}
	return &domain.TransientServiceError{Op: "getPersona_v2", Code: f.Code(), Message: f.FaultString}
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
