package httpet

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	registry "github.com/always-cache/httpet/pkg/animal-registry"
	resolver "github.com/always-cache/httpet/pkg/asset-resolver"
	assetstore "github.com/always-cache/httpet/pkg/asset-store"
	petstore "github.com/always-cache/httpet/pkg/pet-store"
	"github.com/always-cache/httpet/pkg/stats"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// DefaultCacheControl is sent with every asset unless configured otherwise.
const DefaultCacheControl = "public, max-age=3600"

type Config struct {
	// Domain whose subdomains select the animal, e.g. httpet.org.
	BaseDomain string
	// Directory holding default.<ext> and one directory per animal.
	AssetRoot string
	// Storage for asset content. Defaults to reading AssetRoot from disk.
	Store assetstore.Store
	// Optional pet database. When set, only enabled pets are served.
	Pets *petstore.Store
	// Add asset directories unknown to the pet database as enabled pets
	// on every load. Pets deleted from the database come back when set.
	SyncPets bool
	// Optional statistics recorder.
	Stats stats.Recorder
	// Optional handler mounted at /metrics.
	MetricsHandler http.Handler
	// Cache-Control header for assets. DefaultCacheControl is used if empty.
	CacheControl string
	// Middlewares run after request logging is set up, e.g. rate limiting.
	Middlewares []func(http.Handler) http.Handler
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Httpet struct {
	dispatcher   *Dispatcher
	snapshot     atomic.Pointer[resolver.Resolver]
	assetRoot    string
	store        assetstore.Store
	pets         *petstore.Store
	syncPets     bool
	stats        stats.Recorder
	cacheControl string
	log          zerolog.Logger
	router       http.Handler
	now          func() time.Time
}

// Create validates the configuration, builds the first registry snapshot
// and sets up the routes. Any error is a configuration error: do not serve.
func Create(ctx context.Context, config Config) (*Httpet, error) {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	if config.AssetRoot == "" {
		return nil, errors.Wrap(ErrConfig, "asset root is empty")
	}

	h := &Httpet{
		assetRoot:    config.AssetRoot,
		store:        config.Store,
		pets:         config.Pets,
		syncPets:     config.SyncPets,
		stats:        config.Stats,
		cacheControl: config.CacheControl,
		now:          time.Now,
	}
	if h.store == nil {
		h.store = assetstore.NewFSStore(config.AssetRoot)
	}
	if h.cacheControl == "" {
		h.cacheControl = DefaultCacheControl
	}

	dispatcher, err := NewDispatcher(config.BaseDomain, h.snapshot.Load)
	if err != nil {
		return nil, err
	}
	h.dispatcher = dispatcher
	h.log = logger.With().Str("domain", dispatcher.BaseDomain()).Logger()

	if err := h.Reload(ctx); err != nil {
		return nil, err
	}
	h.router = h.routes(config.MetricsHandler, config.Middlewares)
	return h, nil
}

// Reload builds a new registry snapshot, swaps it in and drops cached asset content.
// Requests in flight keep the snapshot they started with.
// On error the current snapshot stays in place.
func (h *Httpet) Reload(ctx context.Context) error {
	opts := []registry.Option{registry.WithLogger(h.log)}
	if h.pets != nil {
		allowed, err := h.enabledPets(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, registry.WithFilter(func(name string) bool {
			_, ok := allowed[name]
			return ok
		}))
	}
	reg, err := registry.Build(h.assetRoot, opts...)
	if err != nil {
		return errors.Wrap(err, "build registry")
	}
	h.snapshot.Store(resolver.New(reg))
	if p, ok := h.store.(purger); ok {
		p.Purge()
	}
	h.log.Info().Strs("animals", reg.Animals()).Msg("Loaded animals")
	return nil
}

// purger is implemented by stores that keep asset content in memory.
type purger interface {
	Purge()
}

func (h *Httpet) enabledPets(ctx context.Context) (map[string]struct{}, error) {
	if h.syncPets {
		names, err := registry.Discover(h.assetRoot)
		if err != nil {
			return nil, err
		}
		added, err := h.pets.Sync(ctx, names)
		if err != nil {
			return nil, errors.Wrap(err, "sync pets")
		}
		if added > 0 {
			h.log.Info().Int("added", added).Msg("Added new asset directories as enabled pets")
		}
	}
	enabled, err := h.pets.Enabled(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load enabled pets")
	}
	allowed := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		allowed[name] = struct{}{}
	}
	return allowed, nil
}

// Registry returns the current snapshot.
func (h *Httpet) Registry() *registry.Registry {
	return h.snapshot.Load().Registry()
}

// Dispatcher returns the request dispatcher.
func (h *Httpet) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// ServeHTTP implements the http.Handler interface.
func (h *Httpet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer h.recover(w, r)
	h.router.ServeHTTP(w, r)
}

// recover turns a panic into a 500 response.
func (h *Httpet) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		if err == http.ErrAbortHandler {
			panic(err)
		}
		getLogger(r, &h.log).WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in request handler")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Httpet) routes(metrics http.Handler, middlewares []func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		hlog.NewHandler(h.log),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.RemoteAddrHandler("ip"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			event := hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("host", r.Host).
				Str("url", r.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				event = event.Str("forwarded_for", xff)
			}
			event.Msg("Sending response to client")
		}),
		middleware.CleanPath,
	)
	r.Use(middlewares...)

	r.Get("/healthz", h.handleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Get("/info/{code}", h.handleInfo)
	r.Post("/vote/{name}", h.handleVote)
	r.Handle("/*", http.HandlerFunc(h.handleStatus))
	return r
}
