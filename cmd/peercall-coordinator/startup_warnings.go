package main

import (
	"log/slog"

	"github.com/peercall/coordinator/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.APIKeySecret == "" {
		logger.Warn("startup security warning: API_KEY_SECRET is unset; the request/response API endpoints reject every call",
			"warning_code", "api_key_unset",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !cfg.RoomPasswordEnabled {
		logger.Warn("startup security warning: room password disabled while --mode=prod (anyone who can reach the coordinator can sign in)",
			"warning_code", "room_password_disabled_in_prod",
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.PublicBaseURL == "" {
		logger.Warn("startup warning: PEERCALL_PUBLIC_BASE_URL is unset while --mode=prod; join links fall back to the listen address",
			"warning_code", "public_base_url_unset_in_prod",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
