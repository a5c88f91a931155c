package httpet

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	assetstore "github.com/always-cache/httpet/pkg/asset-store"
	"github.com/always-cache/httpet/pkg/stats"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// Headers describing the resolution of a status request.
const (
	HeaderStatus     = "X-Httpet-Status"
	HeaderResolution = "X-Httpet-Resolution"
	HeaderAnimal     = "X-Httpet-Animal"
)

const statsTimeout = 250 * time.Millisecond

// handleStatus serves the asset for <animal>.<base-domain>/<code>.
func (h *Httpet) handleStatus(w http.ResponseWriter, r *http.Request) {
	logger := getLogger(r, &h.log)
	desc := h.dispatcher.Dispatch(r.Host, routePath(r))
	logResolution(logger, r, desc)

	object, err := h.store.Open(r.Context(), desc.Asset)
	if err != nil {
		event := logger.Error()
		if errors.Is(err, assetstore.ErrNotFound) {
			event = event.Str("hint", "asset removed since the registry was loaded, reload to pick up changes")
		}
		event.Err(err).Str("asset", desc.Asset.Path).Msg("Could not read asset")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", desc.ContentType)
	header.Set("Cache-Control", h.cacheControl)
	header.Set("ETag", etag(object))
	header.Set(HeaderResolution, desc.Result.Kind.String())
	if desc.Result.Code != 0 {
		header.Set(HeaderStatus, desc.Result.Code.String())
	}
	if desc.Result.Animal != "" {
		header.Set(HeaderAnimal, desc.Result.Animal)
	}
	http.ServeContent(w, r, "", object.ModTime, bytes.NewReader(object.Data))

	h.record(r, desc)
}

// routePath is the cleaned path the router matched on.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath != "" {
		return rctx.RoutePath
	}
	return r.URL.Path
}

// record stores statistics for a resolution. Failures are only logged.
func (h *Httpet) record(r *http.Request, desc ResponseDescriptor) {
	if h.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), statsTimeout)
	defer cancel()
	ev := stats.Event{
		Animal: desc.Result.Animal,
		Code:   desc.Result.Code,
		Kind:   desc.Result.Kind,
		At:     h.now(),
	}
	if err := h.stats.Record(ctx, ev); err != nil {
		getLogger(r, &h.log).Warn().Err(err).Msg("Could not record statistics")
	}
}

// etag is a weak validator built from size and modification time.
func etag(object *assetstore.Object) string {
	return fmt.Sprintf(`W/"%d-%d"`, len(object.Data), object.ModTime.Unix())
}
