package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/configflow"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const statesTimeout = 2 * time.Second

// error codes returned to API clients
const (
	ERROR_INVALID_REQUEST  = "invalid_request"
	ERROR_UNKNOWN_SOURCE   = "unknown_source"
	ERROR_FLOW_NOT_FOUND   = "flow_not_found"
	ERROR_DEVICE_NOT_FOUND = "device_not_found"
	ERROR_INTERNAL         = "internal_error"
)

type flowInitRequest struct {
	Source string         `json:"source"`
	Data   map[string]any `json:"data"`
}

type deviceResponse struct {
	domain.DeviceRecord
	Entities []domain.EntityState `json:"entities"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.POST("/flows", s.InitFlowHandler)
	api.POST("/flows/:flow_id", s.ConfigureFlowHandler)
	api.GET("/devices", s.ListDevicesHandler)
	api.GET("/devices/:ip", s.GetDeviceHandler)
	api.DELETE("/devices/:ip", s.RemoveDeviceHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) InitFlowHandler(c echo.Context) error {
	var req flowInitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ERROR_INVALID_REQUEST})
	}
	if req.Source == "" {
		req.Source = configflow.SOURCE_USER
	}
	res, err := s.flows.Init(c.Request().Context(), req.Source, req.Data)
	if err != nil {
		return s.fail(c, "could not start flow", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) ConfigureFlowHandler(c echo.Context) error {
	input := map[string]any{}
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ERROR_INVALID_REQUEST})
	}
	res, err := s.flows.Configure(c.Request().Context(), c.Param("flow_id"), input)
	if err != nil {
		return s.fail(c, "could not configure flow", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) ListDevicesHandler(c echo.Context) error {
	records, err := s.flows.Entries(c.Request().Context())
	if err != nil {
		return s.fail(c, "could not list devices", err)
	}
	devices := make([]deviceResponse, 0, len(records))
	for _, record := range records {
		devices = append(devices, s.device(record))
	}
	return c.JSON(http.StatusOK, devices)
}

func (s *Server) GetDeviceHandler(c echo.Context) error {
	ip := c.Param("ip")
	records, err := s.flows.Entries(c.Request().Context())
	if err != nil {
		return s.fail(c, "could not list devices", err)
	}
	for _, record := range records {
		if record.IP == ip {
			return c.JSON(http.StatusOK, s.device(record))
		}
	}
	return c.JSON(http.StatusNotFound, errorResponse{Error: ERROR_DEVICE_NOT_FOUND})
}

func (s *Server) RemoveDeviceHandler(c echo.Context) error {
	err := s.flows.RemoveEntry(c.Request().Context(), c.Param("ip"))
	if err != nil {
		return s.fail(c, "could not remove device", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fail answers with the error code for err. Unknown errors are logged and reported as internal.
func (s *Server) fail(c echo.Context, msg string, err error) error {
	switch {
	case errors.Is(err, configflow.ErrUnknownSource):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ERROR_UNKNOWN_SOURCE})
	case errors.Is(err, configflow.ErrFlowNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: ERROR_FLOW_NOT_FOUND})
	case errors.Is(err, domain.ErrRecordNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: ERROR_DEVICE_NOT_FOUND})
	default:
		s.logger.Error(msg, zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: ERROR_INTERNAL})
	}
}

// device joins a record with its live entity states. Missing states are not an error.
func (s *Server) device(record domain.DeviceRecord) deviceResponse {
	resp := deviceResponse{DeviceRecord: record, Entities: []domain.EntityState{}}
	if s.states == nil {
		return resp
	}
	states, err := s.states.EntityStates(record.IP, statesTimeout)
	if err != nil {
		s.logger.Warn("could not read entity states", zap.String("ip", record.IP), zap.Error(err))
		return resp
	}
	if states != nil {
		resp.Entities = states
	}
	return resp
}
