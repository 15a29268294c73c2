package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache/internal/assets"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/logging"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrNotInstalled is returned by Activate when no generation finished installing
var ErrNotInstalled = errors.New("no installed generation to activate")

// Server is the interceptor: a goproxy server serving origin assets from the active generation
type Server struct {
	config  *config.Config
	origin  *url.URL
	proxy   *goproxy.ProxyHttpServer
	storage *assets.Storage
	client  *http.Client
	rules   []Rule

	// generations guards the active generation against deletion during writes
	generations sync.RWMutex
	active      atomic.Pointer[assets.Generation]

	mu      sync.Mutex
	waiting *assets.Generation

	fetches    singleflight.Group
	background sync.WaitGroup
}

// New creates a new interceptor
func New(cfg *config.Config) (*Server, error) {
	origin, err := url.Parse(cfg.Assets.Origin)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid assets origin: %q", cfg.Assets.Origin)
	}

	timeout, err := cfg.GetUpstreamTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream timeout: %w", err)
	}

	transport := newTransport(cfg.Server.HTTPS.SkipUpstreamVerify)
	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = transport
	proxy.Logger = logrus.StandardLogger()
	proxy.Verbose = logrus.IsLevelEnabled(logrus.DebugLevel)
	proxy.CertStore = newCertStore()

	s := &Server{
		config:  cfg,
		origin:  origin,
		proxy:   proxy,
		storage: assets.NewStorage(cfg.Assets.Folder),
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// upstream redirects are handed back to the browser as-is
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		rules: rulesFromConfig(cfg.Assets),
	}

	if origin.Scheme == "https" {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}
	proxy.OnRequest(isSameOriginGET(origin)).DoFunc(s.handleAssetRequest)
	proxy.NonproxyHandler = http.HandlerFunc(s.handleReverse)

	return s, nil
}

// GetProxy returns the underlying proxy handler
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Active returns the generation currently serving requests, nil before the first activation
func (s *Server) Active() *assets.Generation {
	return s.active.Load()
}

// Wait blocks until every background revalidation has finished
func (s *Server) Wait() {
	s.background.Wait()
}

// Start adopts the last activated generation, installs and activates the
// configured one, then serves until the listener fails.
func (s *Server) Start() error {
	ctx := context.Background()

	if err := s.Restore(); err != nil {
		return err
	}

	if err := s.Install(ctx); err != nil {
		logrus.Errorf("Install failed, previous generation keeps serving: %v", err)
	} else if err := s.Activate(ctx); err != nil {
		return err
	}

	logrus.Infof("Starting offline cache interceptor on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.origin)
	logrus.Infof("Assets directory: %s", s.config.Assets.Folder)
	if gen := s.Active(); gen != nil {
		logrus.Infof("Serving generation: %s", gen.Name())
	} else {
		logrus.Warnf("No generation active, requests pass through to the network")
	}

	return http.ListenAndServe(fmt.Sprintf(":%d", s.config.Server.Port), s.proxy)
}

// Restore makes the most recently activated generation on disk the serving one
func (s *Server) Restore() error {
	if err := s.storage.Init(); err != nil {
		return fmt.Errorf("failed to create assets directory: %w", err)
	}
	gen, err := s.storage.LatestActivated()
	if err != nil {
		return fmt.Errorf("failed to restore generation: %w", err)
	}
	if gen != nil {
		s.active.Store(gen)
		logrus.WithFields(logging.GenerationFields("restore", gen.Name())).Info("Restored activated generation")
	}
	return nil
}

// Install populates the configured generation with the application shell.
// On failure the partially populated generation is removed, unless it is the one serving.
func (s *Server) Install(ctx context.Context) error {
	name := s.config.Assets.CacheName()
	log := logrus.WithFields(logging.GenerationFields("install", name))

	if err := s.storage.Init(); err != nil {
		return fmt.Errorf("failed to create assets directory: %w", err)
	}
	existed := s.storage.Has(name)

	gen, err := s.storage.Open(name)
	if err != nil {
		return err
	}

	shell := s.config.Assets.Shell
	if err := gen.AddAll(ctx, s.client, s.origin, shell); err != nil {
		if !existed && !s.isActive(name) {
			if delErr := s.storage.Delete(name); delErr != nil {
				log.Warnf("Failed to remove incomplete generation: %v", delErr)
			}
		}
		return fmt.Errorf("install %s: %w", name, err)
	}

	manifest := assets.Manifest{Name: name, CreatedAt: time.Now(), Shell: shell}
	if previous, err := gen.ReadManifest(); err == nil {
		manifest.CreatedAt = previous.CreatedAt
		manifest.ActivatedAt = previous.ActivatedAt
	}
	if err := gen.WriteManifest(manifest); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}

	s.mu.Lock()
	s.waiting = gen
	s.mu.Unlock()

	log.Infof("Installed %d shell resources", len(shell))
	return nil
}

// Activate deletes every other generation and makes the installed one serve
// all requests from now on.
func (s *Server) Activate(ctx context.Context) error {
	s.mu.Lock()
	gen := s.waiting
	s.waiting = nil
	s.mu.Unlock()
	if gen == nil {
		return ErrNotInstalled
	}
	log := logrus.WithFields(logging.GenerationFields("activate", gen.Name()))

	s.generations.Lock()
	defer s.generations.Unlock()

	names, err := s.storage.Names()
	if err != nil {
		return fmt.Errorf("activate %s: %w", gen.Name(), err)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == gen.Name() {
			continue
		}
		if err := s.storage.Delete(name); err != nil {
			return fmt.Errorf("activate %s: %w", gen.Name(), err)
		}
		log.Infof("Deleted old generation %s", name)
	}

	manifest, err := gen.ReadManifest()
	if err != nil {
		return fmt.Errorf("activate %s: %w", gen.Name(), err)
	}
	now := time.Now()
	manifest.ActivatedAt = &now
	if err := gen.WriteManifest(manifest); err != nil {
		return fmt.Errorf("activate %s: %w", gen.Name(), err)
	}

	s.active.Store(gen)
	log.Info("Generation activated")
	return nil
}

func (s *Server) isActive(name string) bool {
	gen := s.active.Load()
	return gen != nil && gen.Name() == name
}

// handleReverse serves requests addressed to the interceptor itself as if they were sent to the origin
func (s *Server) handleReverse(w http.ResponseWriter, requ *http.Request) {
	requ.URL.Scheme = s.origin.Scheme
	requ.URL.Host = s.origin.Host
	requ.Host = s.origin.Host
	s.proxy.ServeHTTP(w, requ)
}
