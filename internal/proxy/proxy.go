package proxy

import (
	"context"
	"log/slog"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

// Controller validates and reloads a reverse proxy.
type Controller interface {
	// Validate checks the proxy configuration syntactically.
	Validate(ctx context.Context) error

	// Reload applies the configuration. Callers must only invoke it after a
	// successful Validate.
	Reload(ctx context.Context) error
}

// Reloader enforces the validate-before-reload order.
type Reloader struct {
	ctrl   Controller
	logger *slog.Logger
}

// NewReloader wraps ctrl. A nil logger means slog.Default.
func NewReloader(ctrl Controller, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{ctrl: ctrl, logger: logger}
}

// Run validates and then reloads.
//
// A validation failure returns ExitProxyValidation and Reload is never
// called, so a broken config can't take down the running proxy. A
// reload failure returns ExitProxyReload.
func (r *Reloader) Run(ctx context.Context) error {
	r.logger.Info("🔍 validating proxy configuration")
	if err := r.ctrl.Validate(ctx); err != nil {
		r.logger.Error("❌ proxy configuration is invalid, not reloading", "error", err)
		return model.WrapCLIError(model.ExitProxyValidation, "proxy configuration test failed", err)
	}

	r.logger.Info("🔄 reloading proxy")
	if err := r.ctrl.Reload(ctx); err != nil {
		r.logger.Error("❌ proxy reload failed", "error", err)
		return model.WrapCLIError(model.ExitProxyReload, "proxy reload failed", err)
	}

	r.logger.Info("✅ proxy reloaded")
	return nil
}
