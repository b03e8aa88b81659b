package afip

import (
	"fmt"

	"github.com/jhoicas/afip-core/pkg/afip"
)

// ── Endpoints oficiales ────────────────────────────────────────────────────────

const (
	wsaaURLHomo = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
	wsaaURLProd = "https://wsaa.afip.gov.ar/ws/services/LoginCms"

	wsfeURLHomo = "https://wswhomo.afip.gov.ar/wsfev1/service.asmx"
	wsfeURLProd = "https://servicios1.afip.gov.ar/wsfev1/service.asmx"

	padronURLHomo = "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA5"
	padronURLProd = "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA5"

	soapNS     = "http://schemas.xmlsoap.org/soap/envelope/"
	wsaaNS     = "http://wsaa.view.sua.dvadac.desein.afip.gov"
	wsfeNS     = "http://ar.gov.afip.dif.FEV1/"
	padronNS   = "http://a5.soap.ws.server.puc.sr/"
	wsfeAction = wsfeNS
)

// Endpoints URL por ambiente de un servicio AFIP.
type Endpoints struct {
	Homologacion string
	Produccion   string
}

// WSAAEndpoints endpoints oficiales de LoginCms.
func WSAAEndpoints() Endpoints { return Endpoints{Homologacion: wsaaURLHomo, Produccion: wsaaURLProd} }

// WSFEEndpoints endpoints oficiales de WSFEv1.
func WSFEEndpoints() Endpoints { return Endpoints{Homologacion: wsfeURLHomo, Produccion: wsfeURLProd} }

// PadronEndpoints endpoints oficiales de Padrón A5.
func PadronEndpoints() Endpoints { return Endpoints{Homologacion: padronURLHomo, Produccion: padronURLProd} }

// Single usa la misma URL para ambos ambientes (pruebas).
func Single(url string) Endpoints { return Endpoints{Homologacion: url, Produccion: url} }

// For devuelve la URL del ambiente.
func (e Endpoints) For(env string) (string, error) {
	switch env {
	case afip.EnvHomologacion:
		return e.Homologacion, nil
	case afip.EnvProduccion:
		return e.Produccion, nil
	}
	return "", fmt.Errorf("afip: ambiente desconocido %q (usar %q o %q)", env, afip.EnvHomologacion, afip.EnvProduccion)
}
