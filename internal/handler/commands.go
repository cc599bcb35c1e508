package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"stream-proxy-go/internal/command"
)

// maxConfigBytes caps the stored UI config blob.
const maxConfigBytes = 1 << 20

// CommandHandler exposes the command bridge over HTTP.
type CommandHandler struct {
	bridge *command.Bridge
	logger *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(b *command.Bridge, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{
		bridge: b,
		logger: logger.With("component", "command_handler"),
	}
}

// ProxyPort returns {"port": N}, blocking until the listener is bound.
func (h *CommandHandler) ProxyPort(c echo.Context) error {
	port, err := h.bridge.GetProxyPort(c.Request().Context())
	if err != nil {
		h.logger.Error("proxy port unavailable", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]int{"port": port})
}

type fetchURLRequest struct {
	URL string `json:"url"`
}

// FetchURL fetches a playlist verbatim and returns its body and final URL.
func (h *CommandHandler) FetchURL(c echo.Context) error {
	var req fetchURLRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil || req.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": `request body must be {"url": "..."}`,
		})
	}

	res, err := h.bridge.FetchURL(c.Request().Context(), req.URL)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": sanitizeError(err),
		})
	}
	return c.JSON(http.StatusOK, res)
}

// ReadConfig returns the stored config blob as raw JSON.
func (h *CommandHandler) ReadConfig(c echo.Context) error {
	data, err := h.bridge.ReadConfig()
	if err != nil {
		h.logger.Error("read config", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte(data))
}

// WriteConfig replaces the stored config blob. The body must be valid JSON.
func (h *CommandHandler) WriteConfig(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxConfigBytes+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}
	if len(data) > maxConfigBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "config too large",
		})
	}
	if !json.Valid(data) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "config must be valid JSON",
		})
	}

	if err := h.bridge.WriteConfig(string(data)); err != nil {
		h.logger.Error("write config", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.NoContent(http.StatusNoContent)
}
