package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// Outcome resultado de un ciclo de Process.
type Outcome string

const (
	OutcomeAuthorized     Outcome = "authorized"
	OutcomeRejected       Outcome = "rejected"
	OutcomeRetry          Outcome = "retry"
	OutcomeParked         Outcome = "parked"
	OutcomeShortCircuited Outcome = "short_circuited"
	OutcomeSkipped        Outcome = "skipped"
)

// OrchestratorConfig opciones del orquestador.
type OrchestratorConfig struct {
	// HealthProbe llama a FEDummy antes de cada intento.
	HealthProbe bool
	Backoff     afipdomain.BackoffSchedule
}

// CAEOrchestrator conduce una factura por la máquina de estados
//
//	pending → reserved → submitted → {authorized | rejected}
//
// con reintentos (reserved + next_retry_at) y parked al agotar la tabla de backoff.
type CAEOrchestrator struct {
	invoices  repository.InvoiceRepository
	creds     repository.CredentialRepository
	tokens    TokenProvider
	wsfe      AuthorizationService
	numbering *NumberingService
	breaker   *CircuitBreaker
	samples   SampleStore
	events    EventPublisher
	cfg       OrchestratorConfig
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewCAEOrchestrator construye el orquestador.
func NewCAEOrchestrator(
	invoices repository.InvoiceRepository,
	creds repository.CredentialRepository,
	tokens TokenProvider,
	wsfe AuthorizationService,
	numbering *NumberingService,
	breaker *CircuitBreaker,
	samples SampleStore,
	events EventPublisher,
	cfg OrchestratorConfig,
	log zerolog.Logger,
	m *metrics.Metrics,
) *CAEOrchestrator {
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = afipdomain.DefaultBackoff()
	}
	return &CAEOrchestrator{
		invoices:  invoices,
		creds:     creds,
		tokens:    tokens,
		wsfe:      wsfe,
		numbering: numbering,
		breaker:   breaker,
		samples:   samples,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "cae-orchestrator").Logger(),
		metrics:   m,
		now:       time.Now,
	}
}

// attempt estado de un ciclo de Process.
type attempt struct {
	inv       *entity.Invoice
	cred      *entity.Credential
	token     *entity.AuthToken
	session   afipdomain.Session
	typeCode  int
	submitted bool // este ciclo ya consumió un intento con MarkSubmitted
	log       zerolog.Logger
}

// Process ejecuta un intento de autorización sobre la factura. El error solo se devuelve
// cuando el resultado no pudo persistirse; los fallos de AFIP quedan registrados en la factura.
func (o *CAEOrchestrator) Process(ctx context.Context, invoiceID string) (Outcome, error) {
	// ═══════════════════════════════════════════════════════════════════════════
	// 0. Datos frescos: otro worker pudo haberla terminado
	// ═══════════════════════════════════════════════════════════════════════════
	inv, err := o.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("cargando factura %s: %w", invoiceID, err)
	}
	if inv == nil {
		return OutcomeSkipped, fmt.Errorf("factura %s: %w", invoiceID, domain.ErrNotFound)
	}
	if inv.IsFinal() || inv.Status == entity.InvoiceStatusDraft {
		o.log.Debug().Str("invoice_id", inv.ID).Str("status", inv.Status).Msg("factura fuera de la cola, se omite")
		return OutcomeSkipped, nil
	}
	a := &attempt{
		inv: inv,
		log: o.log.With().Str("invoice_id", inv.ID).Str("organization_id", inv.OrganizationID).Logger(),
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Circuit breaker
	// ═══════════════════════════════════════════════════════════════════════════
	dec, err := o.breaker.Allow(ctx, inv.OrganizationID)
	if err != nil {
		return o.fail(ctx, a, fmt.Errorf("consultando circuit breaker: %w", err))
	}
	if !dec.Allowed {
		return o.shortCircuit(ctx, a, dec.RetryAt)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Credencial y ticket WSAA
	// ═══════════════════════════════════════════════════════════════════════════
	if err := o.prepare(ctx, a); err != nil {
		return o.fail(ctx, a, err)
	}
	if o.cfg.HealthProbe {
		if err := o.wsfe.Dummy(ctx, a.cred.Environment); err != nil {
			return o.fail(ctx, a, err)
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Último autorizado y reserva de número
	// ═══════════════════════════════════════════════════════════════════════════
	var remoteLast int64
	err = o.withAuthRetry(ctx, a, func(s afipdomain.Session) error {
		var cerr error
		remoteLast, cerr = o.wsfe.LastAuthorized(ctx, s, inv.PointOfSale, a.typeCode)
		return cerr
	})
	if err != nil {
		return o.fail(ctx, a, err)
	}
	retrying := inv.HasNumber()
	number, err := o.numbering.Reserve(ctx, inv, remoteLast)
	if err != nil {
		return o.fail(ctx, a, err)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 4. Reintento con respuesta perdida: AFIP ya pudo haber otorgado el CAE
	// ═══════════════════════════════════════════════════════════════════════════
	if retrying && remoteLast >= number {
		var found *afipdomain.CAEResponse
		err = o.withAuthRetry(ctx, a, func(s afipdomain.Session) error {
			var cerr error
			found, cerr = o.wsfe.QueryInvoice(ctx, s, inv.PointOfSale, a.typeCode, number)
			return cerr
		})
		if err != nil {
			return o.fail(ctx, a, err)
		}
		if found.Approved() {
			a.log.Info().Int64("number", number).Msg("CAE recuperado con FECompConsultar")
			if err := o.markSubmitted(ctx, a); err != nil {
				return o.fail(ctx, a, err)
			}
			o.serviceAnswered(ctx, a)
			return o.authorize(ctx, a, found)
		}
	}
	if remoteLast != number-1 {
		o.drift(a, number, remoteLast)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 5. FECAESolicitar
	// ═══════════════════════════════════════════════════════════════════════════
	req, err := afipdomain.NewCAERequest(inv)
	if err != nil {
		return o.fail(ctx, a, domain.NewPermanent("invoice", "%v", err))
	}
	if err := o.markSubmitted(ctx, a); err != nil {
		return o.fail(ctx, a, err)
	}
	var resp *afipdomain.CAEResponse
	err = o.withAuthRetry(ctx, a, func(s afipdomain.Session) error {
		var cerr error
		resp, cerr = o.wsfe.RequestCAE(ctx, s, req)
		return cerr
	})
	if err != nil {
		return o.fail(ctx, a, err)
	}
	o.serviceAnswered(ctx, a)

	// ═══════════════════════════════════════════════════════════════════════════
	// 6. Resultado
	// ═══════════════════════════════════════════════════════════════════════════
	if resp.Approved() {
		return o.authorize(ctx, a, resp)
	}
	code, msg := resp.FirstReason()
	return o.reject(ctx, a, code, msg)
}

func (o *CAEOrchestrator) prepare(ctx context.Context, a *attempt) error {
	cred, err := o.creds.GetByOrganization(ctx, a.inv.OrganizationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.CredentialError{OrganizationID: a.inv.OrganizationID, Reason: "organización sin credencial AFIP", Err: err}
		}
		return fmt.Errorf("leyendo credencial: %w", err)
	}
	cuit, err := afip.ParseCUIT(cred.CUIT)
	if err != nil {
		return &domain.CredentialError{OrganizationID: cred.OrganizationID, Reason: "CUIT del emisor inválido", Err: err}
	}
	code, err := afip.InvoiceTypeCode(a.inv.InvoiceType)
	if err != nil {
		return domain.NewPermanent("invoice_type", "%v", err)
	}
	tok, err := o.tokens.GetToken(ctx, cred.OrganizationID, afip.ServiceWSFE)
	if err != nil {
		return err
	}
	a.cred = cred
	a.token = tok
	a.typeCode = code
	a.session = afipdomain.Session{Token: tok.Token, Sign: tok.Sign, CUIT: cuit, Environment: cred.Environment}
	return nil
}

// withAuthRetry ante un rechazo de ticket fuerza la renovación y repite la llamada una sola vez.
func (o *CAEOrchestrator) withAuthRetry(ctx context.Context, a *attempt, call func(afipdomain.Session) error) error {
	err := call(a.session)
	if err == nil || Classify(err) != ClassAuth {
		return err
	}
	a.log.Warn().Err(err).Msg("ticket rechazado por WSFE, renovando")
	fresh, rerr := o.tokens.ForceRefresh(ctx, a.inv.OrganizationID, afip.ServiceWSFE, a.token)
	if rerr != nil {
		return rerr
	}
	a.token = fresh
	a.session.Token = fresh.Token
	a.session.Sign = fresh.Sign
	return call(a.session)
}

func (o *CAEOrchestrator) markSubmitted(ctx context.Context, a *attempt) error {
	if err := a.inv.MarkSubmitted(o.now()); err != nil {
		return err
	}
	if err := o.invoices.Update(ctx, a.inv); err != nil {
		return fmt.Errorf("marcando submitted: %w", err)
	}
	a.submitted = true
	return nil
}

// serviceAnswered AFIP respondió (aprobado o rechazo de negocio): cierra o mantiene cerrado el circuito.
func (o *CAEOrchestrator) serviceAnswered(ctx context.Context, a *attempt) {
	if err := o.breaker.Success(ctx, a.inv.OrganizationID); err != nil {
		a.log.Warn().Err(err).Msg("no se pudo registrar éxito en el circuit breaker")
	}
}

func (o *CAEOrchestrator) authorize(ctx context.Context, a *attempt, resp *afipdomain.CAEResponse) (Outcome, error) {
	inv := a.inv
	now := o.now()
	payload, qrURL, err := afipdomain.BuildQR(inv, a.cred.CUIT, resp.CAE)
	if err != nil {
		a.log.Error().Err(err).Msg("CAE otorgado pero no se pudo armar el QR")
	}
	if err := inv.MarkAuthorized(resp.CAE, resp.CAEExpiry, payload, qrURL, now); err != nil {
		return OutcomeSkipped, err
	}
	if err := o.invoices.Update(ctx, inv); err != nil {
		// el próximo intento lo recupera con FECompConsultar
		a.log.Error().Err(err).Str("cae", resp.CAE).Int64("number", inv.NumberValue()).Msg("CAE otorgado sin persistir")
		return OutcomeSkipped, fmt.Errorf("persistiendo CAE: %w", err)
	}
	latency := now.Sub(inv.QueuedAt)
	o.sample(ctx, a, entity.AttemptSample{At: now, Success: true, Latency: latency})
	o.metrics.AuthorizationLatency(latency)
	o.metrics.Outcome(string(OutcomeAuthorized))
	a.log.Info().
		Int64("number", inv.NumberValue()).
		Str("cae", resp.CAE).
		Dur("latencia", latency).
		Msg("factura autorizada")
	o.publish(ctx, a, Event{
		Type:           EventInvoiceAuthorized,
		OrganizationID: inv.OrganizationID,
		InvoiceID:      inv.ID,
		CAE:            inv.CAE,
		CAEExpiry:      inv.CAEExpiry,
		QRURL:          inv.QRURL,
		OccurredAt:     now,
	})
	return OutcomeAuthorized, nil
}

func (o *CAEOrchestrator) reject(ctx context.Context, a *attempt, code, msg string) (Outcome, error) {
	inv := a.inv
	now := o.now()
	if err := inv.MarkRejected(code, msg, now); err != nil {
		return OutcomeSkipped, err
	}
	if err := o.invoices.Update(ctx, inv); err != nil {
		return OutcomeSkipped, fmt.Errorf("persistiendo rechazo: %w", err)
	}
	if a.submitted {
		latency := now.Sub(inv.QueuedAt)
		o.sample(ctx, a, entity.AttemptSample{At: now, Success: true, Latency: latency})
		o.metrics.AuthorizationLatency(latency)
	}
	o.metrics.Outcome(string(OutcomeRejected))
	a.log.Warn().Str("code", code).Str("message", msg).Msg("factura rechazada")
	o.publish(ctx, a, Event{
		Type:           EventInvoiceRejected,
		OrganizationID: inv.OrganizationID,
		InvoiceID:      inv.ID,
		ReasonCode:     code,
		Message:        msg,
		OccurredAt:     now,
	})
	return OutcomeRejected, nil
}

// fail aplica la tabla de clasificación de errores.
func (o *CAEOrchestrator) fail(ctx context.Context, a *attempt, err error) (Outcome, error) {
	class := Classify(err)
	code := ErrorCode(err)
	switch class {
	case ClassPermanent:
		return o.reject(ctx, a, code, err.Error())
	case ClassCredential:
		a.log.Error().Err(err).Msg("credencial AFIP inválida, la factura requiere intervención")
		return o.park(ctx, a, code, err.Error())
	case ClassTransient:
		if ferr := o.breaker.Failure(ctx, a.inv.OrganizationID); ferr != nil {
			a.log.Warn().Err(ferr).Msg("no se pudo registrar fallo en el circuit breaker")
		}
		o.sample(ctx, a, entity.AttemptSample{At: o.now(), Success: false})
	case ClassInternal:
		a.log.Error().Err(err).Msg("error interno procesando la factura")
		return o.retryAt(ctx, a, o.now().Add(o.cfg.Backoff[0]), code, err.Error())
	}

	// transitorio o segundo rechazo de ticket: consume un intento
	if !a.submitted {
		a.inv.Attempts++
	}
	delay, ok := o.cfg.Backoff.Next(a.inv.Attempts)
	if !ok {
		a.log.Error().Err(err).Int("attempts", a.inv.Attempts).Msg("reintentos agotados")
		return o.park(ctx, a, code, "reintentos agotados: "+err.Error())
	}
	if hint := RetryAfter(err); hint > delay {
		delay = hint
	}
	a.log.Warn().Err(err).
		Str("class", class.String()).
		Int("attempts", a.inv.Attempts).
		Dur("backoff", delay).
		Msg("intento fallido, se reprograma")
	return o.retryAt(ctx, a, o.now().Add(delay), code, err.Error())
}

func (o *CAEOrchestrator) retryAt(ctx context.Context, a *attempt, at time.Time, code, msg string) (Outcome, error) {
	if err := a.inv.ScheduleRetry(at, code, msg, o.now()); err != nil {
		return OutcomeSkipped, err
	}
	if err := o.invoices.Update(ctx, a.inv); err != nil {
		return OutcomeSkipped, fmt.Errorf("reprogramando factura: %w", err)
	}
	o.metrics.Outcome(string(OutcomeRetry))
	return OutcomeRetry, nil
}

func (o *CAEOrchestrator) park(ctx context.Context, a *attempt, code, msg string) (Outcome, error) {
	now := o.now()
	if err := a.inv.Park(code, msg, now); err != nil {
		return OutcomeSkipped, err
	}
	if err := o.invoices.Update(ctx, a.inv); err != nil {
		return OutcomeSkipped, fmt.Errorf("apartando factura: %w", err)
	}
	o.metrics.Outcome(string(OutcomeParked))
	o.publish(ctx, a, Event{
		Type:           EventInvoiceParked,
		OrganizationID: a.inv.OrganizationID,
		InvoiceID:      a.inv.ID,
		ReasonCode:     code,
		Message:        msg,
		OccurredAt:     now,
	})
	return OutcomeParked, nil
}

// shortCircuit reprograma sin consumir intento.
func (o *CAEOrchestrator) shortCircuit(ctx context.Context, a *attempt, at time.Time) (Outcome, error) {
	if err := a.inv.ScheduleRetry(at, a.inv.LastErrorCode, a.inv.LastErrorMessage, o.now()); err != nil {
		return OutcomeSkipped, err
	}
	if err := o.invoices.Update(ctx, a.inv); err != nil {
		return OutcomeSkipped, fmt.Errorf("reprogramando factura: %w", err)
	}
	o.metrics.Outcome(string(OutcomeShortCircuited))
	a.log.Debug().Time("retry_at", at).Msg("circuito abierto, intento diferido")
	return OutcomeShortCircuited, nil
}

func (o *CAEOrchestrator) drift(a *attempt, number, remoteLast int64) {
	w := &domain.SequenceDriftWarning{
		OrganizationID: a.inv.OrganizationID,
		PointOfSale:    a.inv.PointOfSale,
		InvoiceType:    a.inv.InvoiceType,
		LocalNumber:    number,
		RemoteLast:     remoteLast,
	}
	o.metrics.SequenceDrift(a.inv.OrganizationID)
	a.log.Warn().Err(w).Msg("desvío de numeración")
}

func (o *CAEOrchestrator) sample(ctx context.Context, a *attempt, s entity.AttemptSample) {
	if err := o.samples.AddSample(ctx, a.inv.OrganizationID, s); err != nil {
		a.log.Warn().Err(err).Msg("no se pudo registrar la muestra del intento")
	}
}

func (o *CAEOrchestrator) publish(ctx context.Context, a *attempt, ev Event) {
	if err := o.events.Publish(ctx, ev); err != nil {
		a.log.Error().Err(err).Str("event", ev.Type).Msg("no se pudo publicar el evento")
	}
}
