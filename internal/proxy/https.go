package proxy

import (
	"crypto/tls"
	"fmt"

	"github.com/iTrooz/offline-cache/internal/config"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

func loadCertificate(cfg config.HTTPSConfig) (*tls.Certificate, error) {
	if cfg.CACertFile == "" || cfg.CAKeyFile == "" {
		logrus.Debugf("No CA certificate configured, using goproxy default certificate")
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CACertFile, cfg.CAKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate and key: %w", err)
	}
	logrus.Debugf("Loaded CA certificate from %s", cfg.CACertFile)
	return &cert, nil
}

// setupHTTPSProxyHandler intercepts TLS to the origin host so its assets can be cached.
// CONNECT to any other host falls through to goproxy's default tunnel.
func (s *Server) setupHTTPSProxyHandler() error {
	caCert, err := loadCertificate(s.config.Server.HTTPS)
	if err != nil {
		return err
	}

	action := goproxy.MitmConnect
	if caCert == nil {
		logrus.Warnf("Intercepting %s with goproxy's default CA, clients must trust it", s.origin.Host)
	} else {
		action = &goproxy.ConnectAction{
			Action:    goproxy.ConnectMitm,
			TLSConfig: goproxy.TLSConfigFromCA(caCert),
		}
	}

	originMitm := goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		logrus.Debugf("Intercepting CONNECT request for %s", host)
		return action, host
	})
	s.proxy.OnRequest(isOriginConnect(s.origin)).HandleConnect(originMitm)
	return nil
}
