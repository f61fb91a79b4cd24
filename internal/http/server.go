// Package http provides the HTTP API for searchd: organisation and
// installation management, semantic search, health, and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/connector"
	"github.com/fyrsmithlabs/searchd/internal/organisation"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

// Embedder produces query vectors for search requests.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server exposes searchd over HTTP.
type Server struct {
	echo     *echo.Echo
	orgs     *organisation.Service
	index    vectorindex.Index
	embedder Embedder
	logger   *zap.Logger
	config   Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(orgs *organisation.Service, index vectorindex.Index, embedder Embedder, logger *zap.Logger, cfg Config) (*Server, error) {
	if orgs == nil || index == nil || embedder == nil {
		return nil, fmt.Errorf("organisation service, index and embedder are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9180
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewMetrics(logger).Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		orgs:     orgs,
		index:    index,
		embedder: embedder,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/organisations", s.handleCreateOrganisation)
	v1.GET("/organisations", s.handleListOrganisations)
	v1.GET("/organisations/:id", s.handleGetOrganisation)
	v1.POST("/organisations/:id/apps", s.handleInstallApp)
	v1.GET("/organisations/:id/apps", s.handleListApps)
	v1.PATCH("/organisations/:id/apps", s.handleUpdateApps)
	v1.PUT("/organisations/:id/apps/:connector/links", s.handleUpsertLink)
	v1.POST("/organisations/:id/search", s.handleSearch)
}

// httpError maps domain sentinel errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, organisation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, organisation.ErrAlreadyInstalled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, organisation.ErrValidation),
		errors.Is(err, connector.ErrUnknownConnector),
		errors.Is(err, connector.ErrInvalidLocation),
		errors.Is(err, vectorindex.ErrInvalidSearchMode):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateOrganisationRequest is the body for POST /api/v1/organisations.
type CreateOrganisationRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateOrganisation(c echo.Context) error {
	var req CreateOrganisationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	org, err := s.orgs.Create(c.Request().Context(), req.Name)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, org)
}

func (s *Server) handleListOrganisations(c echo.Context) error {
	orgs, err := s.orgs.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, orgs)
}

func (s *Server) handleGetOrganisation(c echo.Context) error {
	org, err := s.orgs.Retrieve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, org)
}

// InstallAppRequest is the body for POST /api/v1/organisations/:id/apps.
type InstallAppRequest struct {
	ConnectorName string `json:"connector_name"`
}

func (s *Server) handleInstallApp(c echo.Context) error {
	var req InstallAppRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	name, err := connector.ParseName(req.ConnectorName)
	if err != nil {
		return httpError(err)
	}

	org, err := s.orgs.InstallApp(c.Request().Context(), c.Param("id"), name)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, org)
}

func (s *Server) handleListApps(c echo.Context) error {
	apps, err := s.orgs.ListInstalledApps(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, apps)
}

// UpdateAppsRequest is the body for PATCH /api/v1/organisations/:id/apps.
type UpdateAppsRequest struct {
	Apps []AppUpdateRequest `json:"apps"`
}

// AppUpdateRequest is one installed-app credential update.
type AppUpdateRequest struct {
	ConnectorName  string   `json:"connector_name"`
	InstallationID string   `json:"installation_id"`
	Permissions    []string `json:"permissions"`
}

func (s *Server) handleUpdateApps(c echo.Context) error {
	var req UpdateAppsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	updates := make([]organisation.AppUpdate, len(req.Apps))
	for i, app := range req.Apps {
		name, err := connector.ParseName(app.ConnectorName)
		if err != nil {
			return httpError(err)
		}
		updates[i] = organisation.AppUpdate{
			ConnectorName:  name,
			InstallationID: app.InstallationID,
			Permissions:    app.Permissions,
		}
	}

	org, err := s.orgs.UpdateInstalledApps(c.Request().Context(), c.Param("id"), updates)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, org)
}

// UpsertLinkRequest is the body for
// PUT /api/v1/organisations/:id/apps/:connector/links.
type UpsertLinkRequest struct {
	ID          string `json:"id"`
	Location    string `json:"location"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (s *Server) handleUpsertLink(c echo.Context) error {
	var req UpsertLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	name, err := connector.ParseName(c.Param("connector"))
	if err != nil {
		return httpError(err)
	}

	// Validate the location up front when supplied; a bad location
	// would otherwise only surface when the crawl fails.
	if req.Location != "" {
		if _, err := connector.ParseTarget(name, req.Location); err != nil {
			return httpError(err)
		}
	}

	link, err := s.orgs.UpsertLink(c.Request().Context(), c.Param("id"), name, organisation.LinkUpdate{
		ID:          req.ID,
		Location:    req.Location,
		Title:       req.Title,
		Description: req.Description,
		Status:      organisation.LinkStatus(req.Status),
	}, organisation.UpsertLinkOptions{EmitEvent: true})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, link)
}

// SearchRequest is the body for POST /api/v1/organisations/:id/search.
type SearchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	Limit int    `json:"limit"`
}

// SearchResponse is the search result envelope.
type SearchResponse struct {
	Results []vectorindex.ScoredDocument `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	ctx := c.Request().Context()
	vectors, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("embedding query: %v", err))
	}
	if len(vectors) != 1 {
		return echo.NewHTTPError(http.StatusBadGateway, "embedding service returned no vector")
	}

	results, err := s.index.SearchDocuments(ctx, c.Param("id"), vectors[0], vectorindex.SearchOptions{
		Mode:  vectorindex.SearchMode(req.Mode),
		Limit: req.Limit,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
