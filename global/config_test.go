package global

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	appcfg "PPRelay/global/config"
	"PPRelay/service/storage/memstore"
	"PPRelay/service/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeNumber(t *testing.T) {
	assert.Equal(t, int64(1), NodeNumber(""))
	n := NodeNumber("relay_01")
	assert.GreaterOrEqual(t, n, int64(0))
	assert.Less(t, n, int64(maxNodeNumber))
	assert.Equal(t, n, NodeNumber("relay_01"))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := OpenStore(ctx, appcfg.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, st)

	st, err = OpenStore(ctx, appcfg.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "relay.db")})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, st)
	require.NoError(t, st.Close())

	_, err = OpenStore(ctx, appcfg.StorageConfig{Driver: "postgres"})
	assert.Error(t, err)
	_, err = OpenStore(ctx, appcfg.StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
	_, err = OpenStore(ctx, appcfg.StorageConfig{Driver: "etcd"})
	assert.Error(t, err)
}

func TestConfigEvents(t *testing.T) {
	sink, err := ConfigEvents(appcfg.EventsConfig{}, nil, "n1", time.Second)
	require.NoError(t, err)
	assert.Nil(t, sink)

	_, err = ConfigEvents(appcfg.EventsConfig{Driver: "redis"}, nil, "n1", time.Second)
	assert.Error(t, err)
}

func TestConfigAllServesRoutes(t *testing.T) {
	cfg := appcfg.Default()
	cfg.Security.JWTSecret = "secret"
	cfg.HTTP.RequireToken = true
	cfg.HTTP.AllowOrigins = []string{"http://ok.example"}
	require.NoError(t, cfg.Validate())

	app, err := ConfigAll(context.Background(), &cfg)
	require.NoError(t, err)
	defer func() { _ = app.Shutdown(context.Background()) }()

	assert.Equal(t, cfg.Gateway.MaxHistoryLimit, app.Server.Options().MaxHistoryLimit)
	assert.Equal(t, cfg.Storage.Timeout, app.Server.Options().StoreTimeout)
	assert.Equal(t, []string{"http://ok.example"}, app.Server.Options().AllowOrigins)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		app.Engine.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, get("/", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/users", "").Code)

	tok, err := app.Issuer.Issue("u1")
	require.NoError(t, err)
	w := get("/api/users", tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = get("/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
