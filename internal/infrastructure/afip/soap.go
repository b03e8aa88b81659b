package afip

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
)

const maxResponseBytes = 4 << 20 // 4 MB

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName   xml.Name   `xml:"soapenv:Envelope"`
	XmlnsSoap string     `xml:"xmlns:soapenv,attr"`
	Header    soapHeader `xml:"soapenv:Header"`
	Body      soapBody   `xml:"soapenv:Body"`
}

type soapHeader struct{}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

// Code devuelve el faultcode sin prefijo de namespace (ej. "cms.sign.invalid").
func (f *soapFault) Code() string {
	if i := strings.LastIndex(f.FaultCode, ":"); i >= 0 {
		return f.FaultCode[i+1:]
	}
	return f.FaultCode
}

// responseEnvelope decodifica el Body en T o en Fault.
type responseEnvelope[T any] struct {
	Body struct {
		Fault   *soapFault `xml:"Fault"`
		Content *T         `xml:",any"`
	} `xml:"Body"`
}

// ── Cliente SOAP ──────────────────────────────────────────────────────────────

// soapCaller ejecuta llamadas SOAP 1.1 sobre net/http.
type soapCaller struct {
	httpClient *http.Client
	timeout    time.Duration
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

func newSOAPCaller(timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *soapCaller {
	return &soapCaller{
		httpClient: &http.Client{Timeout: timeout + 5*time.Second},
		timeout:    timeout,
		log:        log,
		metrics:    m,
	}
}

// soapResult respuesta cruda: status HTTP y cuerpo.
type soapResult struct {
	status int
	body   []byte
}

// post envía el envelope. Los errores devueltos son siempre *domain.TransientServiceError
// (red, timeout, cancelación); las respuestas HTTP, incluidas 5xx, se devuelven para decodificar.
func (c *soapCaller) post(ctx context.Context, op, url, action string, content interface{}) (*soapResult, error) {
	envelope := soapEnvelope{XmlnsSoap: soapNS, Body: soapBody{Content: content}}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope %s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(append([]byte(xml.Header), payload...)))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+action+`"`)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveSOAP(op, metrics.OutcomeTransient, time.Since(start))
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.ObserveSOAP(op, metrics.OutcomeTransient, time.Since(start))
		return nil, &domain.TransientServiceError{Op: op, Message: "lectura de respuesta interrumpida", Err: err}
	}
	elapsed := time.Since(start)
	outcome := metrics.OutcomeOK
	if resp.StatusCode >= 400 {
		outcome = metrics.OutcomeFault
	}
	c.metrics.ObserveSOAP(op, outcome, elapsed)
	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("duracion", elapsed).Msg("llamada SOAP AFIP")
	return &soapResult{status: resp.StatusCode, body: raw}, nil
}

// decode desempaqueta la respuesta en T. Devuelve fault si el servicio respondió un SOAP Fault.
func decode[T any](op string, res *soapResult) (*T, *soapFault, error) {
	var env responseEnvelope[T]
	dec := xml.NewDecoder(bytes.NewReader(res.body))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&env); err != nil {
		if res.status >= 500 {
			return nil, nil, &domain.TransientServiceError{Op: op, Code: fmt.Sprintf("HTTP_%d", res.status), Message: "respuesta no SOAP"}
		}
		return nil, nil, &domain.TransientServiceError{Op: op, Code: "XML", Message: "respuesta SOAP ilegible", Err: err}
	}
	if env.Body.Fault != nil {
		return nil, env.Body.Fault, nil
	}
	if res.status >= 500 {
		return nil, nil, &domain.TransientServiceError{Op: op, Code: fmt.Sprintf("HTTP_%d", res.status)}
	}
	if env.Body.Content == nil {
		return nil, nil, &domain.TransientServiceError{Op: op, Code: "VACIA", Message: "respuesta SOAP vacía o inesperada"}
	}
	return env.Body.Content, nil, nil
}

func transportError(ctx context.Context, op string, err error) error {
	code := "RED"
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		code = "TIMEOUT"
	case errors.Is(ctx.Err(), context.Canceled):
		code = "CANCELADO"
	}
	return &domain.TransientServiceError{Op: op, Code: code, Err: err}
}

// AFIP responde UTF-8; algunos servicios legados declaran ISO-8859-1.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "iso8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("soap: charset %q no soportado", label)
}
