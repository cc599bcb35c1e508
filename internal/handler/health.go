package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Version is a string type for dependency injection of the build version.
type Version string

// PortReporter reports the bound proxy port without blocking.
type PortReporter interface {
	Port() (int, bool)
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	ports   PortReporter
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(ports PortReporter, v Version) *HealthHandler {
	return &HealthHandler{ports: ports, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Port    int    `json:"port"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	port, ok := h.ports.Port()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, statusResponse{
			Status:  "starting",
			Version: string(h.version),
		})
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Port:    port,
	})
}
