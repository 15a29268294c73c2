package proxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-cache/internal/assets"
	"github.com/iTrooz/offline-cache/internal/logging"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// handleAssetRequest answers a same-origin GET from the active generation
// when possible and refreshes the stored copy from the network either way.
func (s *Server) handleAssetRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	gen := s.Active()
	if gen == nil {
		// nothing installed yet: plain proxying
		return requ, nil
	}

	cached := s.getCachedResponse(gen, requ)
	upstream := s.upstreamRequest(requ)

	if cached != nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			if _, err := s.fetch(upstream); err != nil {
				logrus.WithFields(logging.FetchFields(upstream.URL.String(), true)).Debugf("Revalidation failed: %v", err)
			}
		}()
		logrus.WithFields(logging.FetchFields(requ.URL.String(), true)).Debug("Serving from cache")
		return requ, cached
	}

	data, err := s.fetch(upstream)
	if err != nil {
		logrus.WithFields(logging.FetchFields(requ.URL.String(), false)).Warnf("Network fetch failed with nothing cached: %v", err)
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, "offline")
	}

	resp, err := assets.Deserialize(data)
	if err != nil {
		logrus.Errorf("Failed to decode fetched response for %s: %v", requ.URL, err)
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, "offline")
	}
	resp.Request = requ
	resp.Header.Set("X-Cache", "MISS")
	logrus.WithFields(logging.FetchFields(requ.URL.String(), false)).Debugf("Fetched from network -> %d", resp.StatusCode)
	return requ, resp
}

// getCachedResponse returns the stored response for requ, ignoring the query string
func (s *Server) getCachedResponse(gen *assets.Generation, requ *http.Request) *http.Response {
	resp, err := gen.Match(requ, assets.MatchOptions{IgnoreSearch: true})
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", requ.URL, err)
		return nil
	}
	if resp == nil {
		logrus.Debugf("No cached data found for %s", requ.URL)
		return nil
	}

	resp.Header.Set("X-Cache", "HIT")
	return resp
}

// upstreamRequest copies requ into a request that outlives the client connection
func (s *Server) upstreamRequest(requ *http.Request) *http.Request {
	out := requ.Clone(context.WithoutCancel(requ.Context()))
	out.RequestURI = ""
	out.Body = nil
	out.ContentLength = 0
	for _, h := range []string{"Accept-Encoding", "Connection", "Proxy-Connection", "Proxy-Authorization", "X-Cache"} {
		out.Header.Del(h)
	}
	return out
}

// fetch performs the network request and stores the response when it is cacheable.
// Identical URLs in flight at the same time share one request.
func (s *Server) fetch(requ *http.Request) ([]byte, error) {
	v, err, _ := s.fetches.Do(requ.URL.String(), func() (any, error) {
		resp, err := s.client.Do(requ)
		if err != nil {
			return nil, err
		}
		data, err := assets.Serialize(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK && s.shouldBeCached(requ) {
			s.cacheResponse(requ, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// shouldBeCached determines if a fresh response for requ may be stored
func (s *Server) shouldBeCached(requ *http.Request) bool {
	for _, rule := range s.rules {
		if rule.Match(requ) {
			return true
		}
	}
	return false
}

// cacheResponse stores a response in the generation serving at write time
func (s *Server) cacheResponse(requ *http.Request, data []byte) {
	s.generations.RLock()
	defer s.generations.RUnlock()

	gen := s.Active()
	if gen == nil {
		return
	}
	if err := gen.PutCapture(requ.URL, data); err != nil {
		logrus.Errorf("Failed to cache response for %s: %v", requ.URL.String(), err)
	}
}
