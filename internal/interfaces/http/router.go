package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/application/taxpayer"
	"github.com/jhoicas/afip-core/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Invoices    *billing.InvoiceUseCase
	Panic       *billing.PanicHandler
	Taxpayers   *taxpayer.LookupUseCase
	JWTSecret   string
	ServiceName string
	Health      map[string]HealthCheck
	Gatherer    prometheus.Gatherer // nil = prometheus.DefaultGatherer
	Log         zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Público
	app.Get("/health", HealthHandler(deps.ServiceName, deps.Health))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	qrHandler := NewQRHandler()
	api.Get("/qr/validate", qrHandler.Validate)

	// Rutas protegidas (requieren Bearer Token con organization_id)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Invoices
	invoices := protected.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.Invoices, deps.Log)
	invoices.Post("/", invoiceHandler.Submit)
	invoices.Get("/:id", invoiceHandler.GetByID)
	invoices.Get("/:id/status", invoiceHandler.Status)
	invoices.Get("/:id/qr.png", invoiceHandler.QRImage)
	invoices.Post("/:id/archive", invoiceHandler.Archive)
	invoices.Post("/:id/retry", RequireRole(jwt.RoleCollaborator, jwt.RoleOperator), invoiceHandler.Retry)

	// Taxpayers (padrón)
	taxpayerHandler := NewTaxpayerHandler(deps.Taxpayers)
	protected.Get("/taxpayers/:cuit", taxpayerHandler.Lookup)

	// Estado AFIP y modo pánico
	afip := protected.Group("/afip")
	afipHandler := NewAFIPHandler(deps.Panic, deps.Log)
	afip.Get("/status", afipHandler.Status)
	afip.Post("/panic/resolve", RequireRole(jwt.RoleOperator), afipHandler.ResolvePanic)
	afip.Post("/panic/trigger", RequireRole(jwt.RoleOperator), afipHandler.TriggerPanic)
}
