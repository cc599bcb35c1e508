package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, commands *CommandHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/proxy", proxy.Handle)
	e.HEAD("/proxy", proxy.Handle)

	cmd := e.Group("/commands")
	cmd.GET("/proxy-port", commands.ProxyPort)
	cmd.POST("/fetch-url", commands.FetchURL)
	cmd.GET("/config", commands.ReadConfig)
	cmd.PUT("/config", commands.WriteConfig)
}
