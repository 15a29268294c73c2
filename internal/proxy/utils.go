package proxy

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elazarl/goproxy"
)

// normalizeHost lowercases host and drops the port when it is the scheme default
func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// sameOrigin reports whether u has the scheme and host of origin
func sameOrigin(u, origin *url.URL) bool {
	if !strings.EqualFold(u.Scheme, origin.Scheme) {
		return false
	}
	scheme := strings.ToLower(origin.Scheme)
	return normalizeHost(scheme, u.Host) == normalizeHost(scheme, origin.Host)
}

// isSameOriginGET selects the requests the interceptor handles
func isSameOriginGET(origin *url.URL) goproxy.ReqConditionFunc {
	return func(requ *http.Request, ctx *goproxy.ProxyCtx) bool {
		return requ.Method == http.MethodGet && sameOrigin(requ.URL, origin)
	}
}

// isOriginConnect selects CONNECT requests aimed at the origin's host
func isOriginConnect(origin *url.URL) goproxy.ReqConditionFunc {
	return func(requ *http.Request, ctx *goproxy.ProxyCtx) bool {
		host := requ.Host
		if host == "" {
			host = requ.URL.Host
		}
		return normalizeHost("https", host) == normalizeHost("https", origin.Host)
	}
}

// newTransport returns the transport used for every upstream request
func newTransport(skipVerify bool) *http.Transport {
	return &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: skipVerify},
		Proxy:                 nil,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}
