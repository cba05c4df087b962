// Package http exposes the application services over a JSON REST API.
// Handlers translate requests into service calls and service errors into status codes.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Mode            string
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	verifier   *TokenVerifier
	health     func() bool
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, verifier *TokenVerifier, health func() bool, logger Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		verifier: verifier,
		health:   health,
		logger:   logger,
	}
	s.router.Use(gin.Recovery(), s.loggingMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.health, s.logger)
	can := func(capability entity.Capability) gin.HandlerFunc {
		return RequireCapability(s.services.Authorizer, capability)
	}

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api/v1", ActorMiddleware(s.verifier))

	orders := api.Group("/purchase-orders")
	{
		orders.GET("", can(entity.CapViewLedger), h.ListPurchaseOrders)
		orders.GET("/:id", can(entity.CapViewLedger), h.GetPurchaseOrder)
		orders.GET("/:id/receipts", can(entity.CapViewLedger), h.ListGoodsReceipts)
		orders.POST("", can(entity.CapManagePurchaseOrders), h.CreatePurchaseOrder)
		orders.POST("/:id/lines", can(entity.CapManagePurchaseOrders), h.AddLineItem)
		orders.DELETE("/:id/lines/:lineId", can(entity.CapManagePurchaseOrders), h.RemoveLineItem)
		orders.POST("/:id/submit", can(entity.CapSubmitForApproval), h.SubmitPurchaseOrder)
		orders.POST("/:id/order", can(entity.CapManagePurchaseOrders), h.PlaceOrder)
		orders.POST("/:id/close", can(entity.CapManagePurchaseOrders), h.ClosePurchaseOrder)
		orders.POST("/:id/cancel", can(entity.CapManagePurchaseOrders), h.CancelPurchaseOrder)
		orders.POST("/:id/receipts", can(entity.CapReceiveGoods), h.CreateGoodsReceipt)
	}

	receipts := api.Group("/goods-receipts")
	{
		receipts.GET("/:id", can(entity.CapViewLedger), h.GetGoodsReceipt)
		receipts.POST("/:id/submit", can(entity.CapReceiveGoods), h.SubmitGoodsReceipt)
		receipts.POST("/:id/inspection", can(entity.CapInspectMaterial), h.RecordInspection)
		receipts.POST("/:id/accept", can(entity.CapReceiveGoods), h.AcceptGoodsReceipt)
		receipts.POST("/:id/reject", can(entity.CapInspectMaterial), h.RejectGoodsReceipt)
	}

	// decision rights are per step and checked by the approval service
	workflows := api.Group("/workflows")
	{
		workflows.GET("/inbox", can(entity.CapDecideApproval), h.Inbox)
		workflows.GET("/:id", can(entity.CapViewLedger), h.GetWorkflow)
		workflows.POST("/:id/decisions", can(entity.CapDecideApproval), h.DecideWorkflow)
	}

	materials := api.Group("/materials")
	{
		materials.GET("/:id", can(entity.CapViewLedger), h.GetMaterial)
		materials.GET("/:id/allocations", can(entity.CapViewLedger), h.ListMaterialAllocations)
		materials.POST("/:id/inspect", can(entity.CapInspectMaterial), h.InspectMaterial)
		materials.POST("/:id/allocate", can(entity.CapAllocateMaterial), h.AllocateMaterial)
		materials.POST("/:id/scrap", can(entity.CapScrapMaterial), h.ScrapMaterial)
		materials.POST("/:id/start-production", can(entity.CapIssueMaterial), h.StartProduction)
	}

	allocations := api.Group("/allocations")
	{
		allocations.GET("/:id", can(entity.CapViewLedger), h.GetAllocation)
		allocations.POST("/:id/issue", can(entity.CapIssueMaterial), h.IssueAllocation)
		allocations.POST("/:id/return", can(entity.CapIssueMaterial), h.ReturnAllocation)
		allocations.POST("/:id/release", can(entity.CapAllocateMaterial), h.ReleaseAllocation)
	}

	barcodes := api.Group("/barcodes")
	{
		barcodes.POST("/children", can(entity.CapManageBarcodes), h.CreateChildBarcode)
		barcodes.GET("/:id", can(entity.CapManageBarcodes), h.GetBarcode)
		barcodes.GET("/:id/traceability", can(entity.CapManageBarcodes), h.GetTraceability)
	}

	api.POST("/transitions", can(entity.CapTransition), h.Transition)
	api.GET("/entities/:type/:id/actions", can(entity.CapViewLedger), h.PermittedActions)
	api.GET("/entities/:type/:id/history", can(entity.CapViewLedger), h.EntityHistory)
	api.GET("/ledger", can(entity.CapViewLedger), h.QueryLedger)
	api.GET("/ledger/export", can(entity.CapViewLedger), h.ExportLedger)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", s.config.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
