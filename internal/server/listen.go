package server

import (
	"fmt"
	"log/slog"
	"net"

	"stream-proxy-go/internal/config"
)

// Listen binds the loopback listener from cfg (port 0 means OS-assigned) and
// publishes the bound port into gate. A bind failure is also published, so
// anything waiting on the port learns why it will never come.
func Listen(cfg *config.Config, gate *PortGate, logger *slog.Logger) (net.Listener, error) {
	addr := cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		err = fmt.Errorf("bind %s: %w", addr, err)
		_ = gate.Fail(err)
		return nil, err
	}

	port := ln.Addr().(*net.TCPAddr).Port
	if err := gate.Publish(port); err != nil {
		_ = ln.Close()
		return nil, err
	}

	logger.Info("stream proxy listening", "origin", Origin(ln.Addr()))
	return ln, nil
}

// Origin returns the scheme://host:port this proxy is reachable at.
func Origin(addr net.Addr) string {
	return "http://" + addr.String()
}
