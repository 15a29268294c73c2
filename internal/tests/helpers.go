package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/gateway"
	"github.com/iTrooz/offline-cache/internal/proxy"
	"github.com/iTrooz/offline-cache/internal/storage"
)

// application is a fake web application: static assets plus a JSON API under /api/
type application struct {
	*httptest.Server

	mu      sync.Mutex
	release string
	items   []string
}

// fixture_upstream creates a test application server
func fixture_upstream() *application {
	app := &application{release: "r1", items: []string{"first"}}
	app.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		app.mu.Lock()
		defer app.mu.Unlock()

		switch {
		case requ.URL.Path == "/api/items" && requ.Method == http.MethodPost:
			_ = requ.ParseForm()
			app.items = append(app.items, requ.PostForm.Get("name"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		case requ.URL.Path == "/api/items":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"count":` + strconv.Itoa(len(app.items)) + `}`))
		case requ.URL.Path == "/api/broken":
			_, _ = w.Write([]byte(`<h1>maintenance</h1>`))
		default:
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(app.release + ":" + requ.URL.Path))
		}
	}))
	return app
}

func (a *application) setRelease(release string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release = release
}

// fixture_config creates a test config for the given application and asset version
func fixture_config(tempDir, origin, version string) *config.Config {
	cfg := config.Default()
	cfg.API.BaseURL = origin
	cfg.Cache.TTL = "1h"
	cfg.Cache.DBPath = filepath.Join(tempDir, "responses.db")
	cfg.Assets.Origin = origin
	cfg.Assets.Folder = filepath.Join(tempDir, "assets")
	cfg.Assets.Version = version
	cfg.Assets.Shell = []string{"/", "/index.html", "/app.js"}
	return cfg
}

// fixture_proxy creates, installs and activates an interceptor, then returns it with a client using it
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := proxyServer.Restore(); err != nil {
		return nil, nil, nil, err
	}
	if err := proxyServer.Install(context.Background()); err != nil {
		return proxyServer, nil, nil, err
	}
	if err := proxyServer.Activate(context.Background()); err != nil {
		return nil, nil, nil, err
	}

	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}

// fixture_gateway creates a gateway backed by the SQLite request cache
func fixture_gateway(cfg *config.Config) (*gateway.Client, *storage.Handle, error) {
	ttl, err := cfg.GetCacheTTL()
	if err != nil {
		return nil, nil, err
	}
	handle := storage.NewHandle(cfg.Cache.DBPath)
	client, err := gateway.New(cfg.API.BaseURL, cache.New(handle, ttl))
	if err != nil {
		return nil, nil, err
	}
	return client, handle, nil
}
