package afip

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/afip/signer"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
	pkgafip "github.com/jhoicas/afip-core/pkg/afip"
)

// ── Estructuras loginCms ──────────────────────────────────────────────────────

type loginCmsRequest struct {
	XMLName xml.Name `xml:"loginCms"`
	Xmlns   string   `xml:"xmlns,attr"`
	In0     string   `xml:"in0"` // CMS en base64
}

type loginCmsResponse struct {
	Return string `xml:"loginCmsReturn"` // loginTicketResponse escapado
}

// ── Cliente ───────────────────────────────────────────────────────────────────

// WSAAConfig parámetros del cliente WSAA.
type WSAAConfig struct {
	Endpoints Endpoints
	Timeout   time.Duration
	Window    signer.TRAWindow
}

// WSAAClient obtiene tickets de acceso firmando un TRA con el certificado de la organización.
type WSAAClient struct {
	soap   *soapCaller
	cfg    WSAAConfig
	signer pkgafip.Signer
	now    func() time.Time
}

// NewWSAAClient construye el cliente. cfg.Endpoints vacío usa los endpoints oficiales.
func NewWSAAClient(cfg WSAAConfig, s pkgafip.Signer, log zerolog.Logger, m *metrics.Metrics) *WSAAClient {
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = WSAAEndpoints()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Window == (signer.TRAWindow{}) {
		cfg.Window = signer.DefaultTRAWindow()
	}
	if s == nil {
		s = signer.NewCMSSigner()
	}
	return &WSAAClient{
		soap:   newSOAPCaller(cfg.Timeout, log.With().Str("component", "wsaa").Logger(), m),
		cfg:    cfg,
		signer: s,
		now:    time.Now,
	}
}

// Login firma el TRA para service y llama a loginCms. Errores posibles:
// *domain.CredentialError, *domain.AuthError, *domain.TransientServiceError.
func (c *WSAAClient) Login(ctx context.Context, cred *entity.Credential, service string) (*entity.AuthToken, error) {
	url, err := c.cfg.Endpoints.For(cred.Environment)
	if err != nil {
		return nil, &domain.CredentialError{OrganizationID: cred.OrganizationID, Reason: "ambiente inválido", Err: err}
	}
	now := c.now()
	cert, err := signer.LoadCredential(cred, now)
	if err != nil {
		return nil, err
	}
	tra, err := signer.BuildTRA(service, now, c.cfg.Window, 0)
	if err != nil {
		return nil, fmt.Errorf("wsaa: %w", err)
	}
	cms, err := c.signer.Sign(tra, cert)
	if err != nil {
		return nil, &domain.CredentialError{OrganizationID: cred.OrganizationID, Reason: "no se pudo firmar el TRA", Err: err}
	}

	res, err := c.soap.post(ctx, "loginCms", url, "", &loginCmsRequest{
		Xmlns: wsaaNS,
		In0:   base64.StdEncoding.EncodeToString(cms),
	})
	if err != nil {
		return nil, err
	}
	body, fault, err := decode[loginCmsResponse]("loginCms", res)
	if err != nil {
		return nil, err
	}
	if fault != nil {
		return nil, classifyWSAAFault(cred.OrganizationID, fault)
	}
	tok, err := parseLoginTicketResponse(body.Return)
	if err != nil {
		return nil, &domain.TransientServiceError{Op: "loginCms", Code: "TA", Message: "loginTicketResponse inválido", Err: err}
	}
	tok.OrganizationID = cred.OrganizationID
	tok.Service = service
	return tok, nil
}

// parseLoginTicketResponse extrae token, sign y vigencia del TA.
func parseLoginTicketResponse(raw string) (*entity.AuthToken, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(strings.TrimSpace(raw)); err != nil {
		return nil, err
	}
	root := doc.SelectElement("loginTicketResponse")
	if root == nil {
		return nil, fmt.Errorf("falta loginTicketResponse")
	}
	text := func(path string) string {
		if el := root.FindElement(path); el != nil {
			return strings.TrimSpace(el.Text())
		}
		return ""
	}
	tok := &entity.AuthToken{Token: text("credentials/token"), Sign: text("credentials/sign")}
	if tok.Token == "" || tok.Sign == "" {
		return nil, fmt.Errorf("token o sign ausentes")
	}
	exp, err := time.Parse(time.RFC3339Nano, text("header/expirationTime"))
	if err != nil {
		return nil, fmt.Errorf("expirationTime: %w", err)
	}
	tok.ExpiresAt = exp
	if gen, err := time.Parse(time.RFC3339Nano, text("header/generationTime")); err == nil {
		tok.GeneratedAt = gen
	}
	return tok, nil
}

// Faults de WSAA: cms.cert.* es material inválido; cms.* / xml.* / coe.notAuthorized
// son rechazos de firma; coe.alreadyAuthenticated y wsn.* se reintentan.
func classifyWSAAFault(orgID string, f *soapFault) error {
	code := f.Code()
	switch {
	case code == "coe.alreadyAuthenticated":
		return &domain.TransientServiceError{Op: "loginCms", Code: code, Message: f.FaultString, RetryAfter: 60}
	case strings.HasPrefix(code, "wsn."), strings.EqualFold(code, "Server"):
		return &domain.TransientServiceError{Op: "loginCms", Code: code, Message: f.FaultString}
	case strings.HasPrefix(code, "cms.cert."):
		return &domain.CredentialError{OrganizationID: orgID, Reason: "certificado rechazado por WSAA: " + f.FaultString}
	default:
		return &domain.AuthError{Code: code, Message: f.FaultString, Permanent: true}
	}
}
