package httpet

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// getLogger returns the request logger, or fallback if the request has none.
func getLogger(r *http.Request, fallback *zerolog.Logger) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = fallback
	}
	return logger
}

func logResolution(logger *zerolog.Logger, r *http.Request, desc ResponseDescriptor) {
	result := desc.Result
	event := logger.Debug().
		Str("host", r.Host).
		Str("segment", desc.Segment).
		Str("resolution", result.Kind.String()).
		Str("asset", desc.Asset.Path)
	if desc.RequestedAnimal != "" {
		event = event.Str("animal", desc.RequestedAnimal)
	}
	if result.Reason != "" {
		event = event.Str("reason", result.Reason)
	}
	if result.CodeErr != nil {
		event = event.AnErr("code_error", result.CodeErr)
	}
	event.Msg("Resolved asset")
}
