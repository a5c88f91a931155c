package httpet

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	registry "github.com/always-cache/httpet/pkg/animal-registry"
	assetstore "github.com/always-cache/httpet/pkg/asset-store"
	petstore "github.com/always-cache/httpet/pkg/pet-store"
	"github.com/always-cache/httpet/pkg/stats"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStats struct {
	mu     sync.Mutex
	events []stats.Event
}

func (s *recordingStats) Record(_ context.Context, ev stats.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type panickingStore struct{}

func (panickingStore) Open(context.Context, registry.Asset) (*assetstore.Object, error) {
	panic("boom")
}

func newTestHttpet(t *testing.T, config Config) *Httpet {
	t.Helper()
	logger := zerolog.Nop()
	config.Logger = &logger
	if config.BaseDomain == "" {
		config.BaseDomain = "httpet.org"
	}
	if config.AssetRoot == "" {
		config.AssetRoot = defaultAssets(t)
	}
	h, err := Create(context.Background(), config)
	require.NoError(t, err)
	return h
}

func openPets(t *testing.T) *petstore.Store {
	t.Helper()
	pets, err := petstore.Open(filepath.Join(t.TempDir(), "pets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pets.Close() })
	return pets
}

func do(h http.Handler, method, url string, header http.Header) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, url, nil)
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServeExactAsset(t *testing.T) {
	rec := &recordingStats{}
	h := newTestHttpet(t, Config{Stats: rec})

	w := do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dog/404.jpg", w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, DefaultCacheControl, w.Header().Get("Cache-Control"))
	assert.Equal(t, "404", w.Header().Get(HeaderStatus))
	assert.Equal(t, "exact", w.Header().Get(HeaderResolution))
	assert.Equal(t, "dog", w.Header().Get(HeaderAnimal))
	assert.Regexp(t, `^W/"11-\d+"$`, w.Header().Get("ETag"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	require.Len(t, rec.events, 1)
	assert.Equal(t, "dog", rec.events[0].Animal)
	assert.EqualValues(t, 404, rec.events[0].Code)
}

func TestServeFallbacks(t *testing.T) {
	h := newTestHttpet(t, Config{CacheControl: "no-cache"})

	tests := []struct {
		url        string
		body       string
		resolution string
		status     string
		animal     string
	}{
		{"http://dog.httpet.org/418", "dog/default.jpg", "animal_fallback", "418", "dog"},
		{"http://dog.httpet.org/", "dog/default.jpg", "animal_fallback", "", "dog"},
		{"http://elephant.httpet.org/500", "default.jpg", "global_fallback", "500", ""},
		{"http://httpet.org/200", "default.jpg", "global_fallback", "200", ""},
		{"http://dog.httpet.org/4o4", "dog/default.jpg", "animal_fallback", "", "dog"},
	}
	for _, test := range tests {
		w := do(h, http.MethodGet, test.url, nil)
		require.Equal(t, http.StatusOK, w.Code, test.url)
		assert.Equal(t, test.body, w.Body.String(), test.url)
		assert.Equal(t, test.resolution, w.Header().Get(HeaderResolution), test.url)
		assert.Equal(t, test.status, w.Header().Get(HeaderStatus), test.url)
		assert.Equal(t, test.animal, w.Header().Get(HeaderAnimal), test.url)
		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"), test.url)
	}
}

func TestServeAnyMethod(t *testing.T) {
	h := newTestHttpet(t, Config{})

	w := do(h, http.MethodHead, "http://dog.httpet.org/404", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(h, http.MethodPost, "http://dog.httpet.org/404", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dog/404.jpg", w.Body.String())
}

func TestServeNotModified(t *testing.T) {
	h := newTestHttpet(t, Config{})

	w := do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = do(h, http.MethodGet, "http://dog.httpet.org/404", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestServeMissingAsset(t *testing.T) {
	root := defaultAssets(t)
	h := newTestHttpet(t, Config{AssetRoot: root})
	require.NoError(t, os.Remove(filepath.Join(root, "dog", "404.jpg")))

	w := do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")

	// other assets are not affected
	w = do(h, http.MethodGet, "http://dog.httpet.org/500", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServeRecoversPanic(t *testing.T) {
	h := newTestHttpet(t, Config{Store: panickingStore{}})

	w := do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCachedStore(t *testing.T) {
	root := defaultAssets(t)
	store := assetstore.NewCachedStore(assetstore.NewFSStore(root), time.Minute, 10)
	h := newTestHttpet(t, Config{AssetRoot: root, Store: store})

	w := do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, os.Remove(filepath.Join(root, "dog", "404.jpg")))

	w = do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dog/404.jpg", w.Body.String())
	assert.Equal(t, 1, store.Len())
}

func TestHealth(t *testing.T) {
	h := newTestHttpet(t, Config{})

	w := do(h, http.MethodGet, "http://httpet.org/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	h := newTestHttpet(t, Config{})
	w := do(h, http.MethodGet, "http://httpet.org/metrics", nil)
	assert.Equal(t, "default.jpg", w.Body.String(), "without a metrics handler the path is a status request")

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	})
	h = newTestHttpet(t, Config{MetricsHandler: metrics})
	w = do(h, http.MethodGet, "http://httpet.org/metrics", nil)
	assert.Equal(t, "metrics", w.Body.String())
}

func TestMiddlewares(t *testing.T) {
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test", "yes")
			next.ServeHTTP(w, r)
		})
	}
	h := newTestHttpet(t, Config{Middlewares: []func(http.Handler) http.Handler{mw}})

	w := do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	assert.Equal(t, "yes", w.Header().Get("X-Test"))
}

func TestInfoPage(t *testing.T) {
	h := newTestHttpet(t, Config{})

	w := do(h, http.MethodGet, "http://httpet.org/info/404", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "404 Not Found")
	assert.Contains(t, body, "Client Error")
	assert.Contains(t, body, `href="//dog.httpet.org/404"`)
	assert.NotContains(t, body, "cat.httpet.org")

	w = do(h, http.MethodGet, "http://httpet.org/info/302", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No pet has a picture")

	w = do(h, http.MethodGet, "http://httpet.org/info/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVote(t *testing.T) {
	pets := openPets(t)
	h := newTestHttpet(t, Config{Pets: pets, SyncPets: true})

	w := do(h, http.MethodPost, "http://httpet.org/vote/zebra", nil)
	require.Equal(t, http.StatusOK, w.Code)
	votes, err := pets.Votes(context.Background(), "zebra", time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, votes)

	w = do(h, http.MethodPost, "http://httpet.org/vote/dog", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(h, http.MethodPost, "http://httpet.org/vote/bad_name", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoteWithoutPetStore(t *testing.T) {
	h := newTestHttpet(t, Config{})

	w := do(h, http.MethodPost, "http://httpet.org/vote/zebra", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOnlyEnabledPetsAreServed(t *testing.T) {
	ctx := context.Background()
	pets := openPets(t)
	require.NoError(t, pets.Upsert(ctx, "cat", petstore.Voting))
	h := newTestHttpet(t, Config{Pets: pets, SyncPets: true})

	assert.Equal(t, []string{"dog"}, h.Registry().Animals())
	w := do(h, http.MethodGet, "http://cat.httpet.org/200", nil)
	assert.Equal(t, "default.jpg", w.Body.String())

	dog, err := pets.Get(ctx, "dog")
	require.NoError(t, err)
	assert.Equal(t, petstore.Enabled, dog.Status, "asset directories are added as enabled")

	require.NoError(t, pets.Upsert(ctx, "cat", petstore.Enabled))
	require.NoError(t, h.Reload(ctx))
	w = do(h, http.MethodGet, "http://cat.httpet.org/200", nil)
	assert.Equal(t, "cat/200.gif", w.Body.String())
}

func TestReload(t *testing.T) {
	root := defaultAssets(t)
	h := newTestHttpet(t, Config{AssetRoot: root})

	require.NoError(t, os.MkdirAll(filepath.Join(root, "owl"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "owl", "301.webp"), []byte("owl/301.webp"), 0o644))
	require.NoError(t, h.Reload(context.Background()))

	w := do(h, http.MethodGet, "http://owl.httpet.org/301", nil)
	assert.Equal(t, "owl/301.webp", w.Body.String())
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))

	// a failed reload keeps the current snapshot
	require.NoError(t, os.Remove(filepath.Join(root, "default.jpg")))
	err := h.Reload(context.Background())
	assert.ErrorIs(t, err, registry.ErrNoFallback)
	assert.Equal(t, []string{"cat", "dog", "owl"}, h.Registry().Animals())
}

func TestCreateErrors(t *testing.T) {
	logger := zerolog.Nop()

	_, err := Create(context.Background(), Config{BaseDomain: "", AssetRoot: defaultAssets(t), Logger: &logger})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Create(context.Background(), Config{BaseDomain: "httpet.org", Logger: &logger})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Create(context.Background(), Config{BaseDomain: "httpet.org", AssetRoot: writeAssets(t, "default.jpg"), Logger: &logger})
	assert.ErrorIs(t, err, registry.ErrNoAnimals)

	_, err = Create(context.Background(), Config{BaseDomain: "httpet.org", AssetRoot: writeAssets(t, "dog/404.jpg"), Logger: &logger})
	assert.ErrorIs(t, err, registry.ErrNoFallback)

	_, err = Create(context.Background(), Config{BaseDomain: "httpet.org", AssetRoot: filepath.Join(t.TempDir(), "missing"), Logger: &logger})
	assert.Error(t, err)
}

func TestDeletedPetStaysDeleted(t *testing.T) {
	ctx := context.Background()
	pets := openPets(t)
	root := defaultAssets(t)
	_, err := pets.Sync(ctx, []string{"cat", "dog"})
	require.NoError(t, err)
	h := newTestHttpet(t, Config{AssetRoot: root, Pets: pets})
	require.Equal(t, []string{"cat", "dog"}, h.Registry().Animals())

	require.NoError(t, pets.Delete(ctx, "cat"))
	require.NoError(t, h.Reload(ctx))

	_, err = pets.Get(ctx, "cat")
	assert.ErrorIs(t, err, petstore.ErrNotFound)
	assert.Equal(t, []string{"dog"}, h.Registry().Animals())
	w := do(h, http.MethodGet, "http://cat.httpet.org/200", nil)
	assert.Equal(t, "default.jpg", w.Body.String())
	assert.Equal(t, "global_fallback", w.Header().Get(HeaderResolution))
}

func TestEmptyPetStoreIsNotSynced(t *testing.T) {
	logger := zerolog.Nop()
	_, err := Create(context.Background(), Config{
		BaseDomain: "httpet.org",
		AssetRoot:  defaultAssets(t),
		Pets:       openPets(t),
		Logger:     &logger,
	})
	assert.ErrorIs(t, err, registry.ErrNoAnimals)
}

func TestAccessLogAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	h, err := Create(context.Background(), Config{
		BaseDomain: "httpet.org",
		AssetRoot:  defaultAssets(t),
		Logger:     &logger,
	})
	require.NoError(t, err)
	buf.Reset()

	r := httptest.NewRequest(http.MethodGet, "http://dog.httpet.org/404", nil)
	r.RemoteAddr = "192.0.2.7:4321"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), r)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, buf.String())
	assert.Contains(t, lines[0], `"level":"info"`)
	assert.Contains(t, lines[0], `"message":"Sending response to client"`)
	assert.Contains(t, lines[0], `"ip":"192.0.2.7:4321"`)
	assert.Contains(t, lines[0], `"forwarded_for":"203.0.113.9"`)
	assert.Contains(t, lines[0], `"status":200`)
}

func TestReloadPurgesCachedAssets(t *testing.T) {
	root := defaultAssets(t)
	store := assetstore.NewCachedStore(assetstore.NewFSStore(root), time.Hour, 10)
	h := newTestHttpet(t, Config{AssetRoot: root, Store: store})

	w := do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	require.Equal(t, "dog/404.jpg", w.Body.String())
	require.NoError(t, os.WriteFile(filepath.Join(root, "dog", "404.jpg"), []byte("new dog"), 0o644))

	w = do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	assert.Equal(t, "dog/404.jpg", w.Body.String(), "served from cache until reload")

	require.NoError(t, h.Reload(context.Background()))
	w = do(h, http.MethodGet, "http://dog.httpet.org/404", nil)
	assert.Equal(t, "new dog", w.Body.String())
}

func TestServeCleanedPath(t *testing.T) {
	h := newTestHttpet(t, Config{})

	for _, url := range []string{"http://dog.httpet.org//404", "http://dog.httpet.org/404/", "http://dog.httpet.org/x/../404"} {
		w := do(h, http.MethodGet, url, nil)
		assert.Equal(t, "dog/404.jpg", w.Body.String(), url)
		assert.Equal(t, "exact", w.Header().Get(HeaderResolution), url)
	}
}
