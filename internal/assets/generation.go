package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrIncomplete is returned by AddAll when any resource could not be fetched.
var ErrIncomplete = errors.New("generation population incomplete")

// addAllConcurrency bounds parallel fetches while populating a generation.
const addAllConcurrency = 4

// Generation is one named, versioned set of captured responses.
// Entries are files laid out as <host>/<path>/GET[_q<queryhash>].bin.
type Generation struct {
	name string
	dir  string
}

// MatchOptions controls how a request is matched against stored entries.
type MatchOptions struct {
	// IgnoreSearch makes /app.js?v=1 and /app.js?v=2 match the same entry.
	IgnoreSearch bool
}

// Name returns the generation name.
func (g *Generation) Name() string {
	return g.name
}

// entryDir is the directory holding every query variant of u's path.
func (g *Generation) entryDir(u *url.URL) string {
	host := strings.TrimSuffix(strings.TrimSuffix(u.Host, ":80"), ":443")
	parts := []string{g.dir, host}

	clean := strings.Trim(path.Clean("/"+u.Path), "/")
	if clean != "" {
		parts = append(parts, filepath.FromSlash(clean))
	}
	return filepath.Join(parts...)
}

// entryPath generates the file path for a GET of u, query included.
func (g *Generation) entryPath(u *url.URL) string {
	filename := http.MethodGet
	if u.RawQuery != "" {
		hash := sha256.Sum256([]byte(u.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:8]
	}
	return filepath.Join(g.entryDir(u), filename+".bin")
}

// Put stores resp under the full URL of req. resp.Body stays readable.
func (g *Generation) Put(req *http.Request, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return err
	}
	return g.PutCapture(req.URL, data)
}

// PutCapture stores an already serialized response under u.
func (g *Generation) PutCapture(u *url.URL, data []byte) error {
	return g.write(g.entryPath(u), data)
}

func (g *Generation) write(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// concurrent readers never see a partially written entry
	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	logrus.Debugf("Stored asset response: %s", target)
	return nil
}

// Match returns the stored response for req, or nil, nil on a miss.
func (g *Generation) Match(req *http.Request, opts MatchOptions) (*http.Response, error) {
	target := g.entryPath(req.URL)
	if opts.IgnoreSearch {
		var err error
		target, err = g.newestVariant(req.URL)
		if err != nil {
			return nil, err
		}
		if target == "" {
			return nil, nil
		}
	}

	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached asset: %w", err)
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

// newestVariant picks the most recently written entry for u's path, whatever its query.
func (g *Generation) newestVariant(u *url.URL) (string, error) {
	dir := g.entryDir(u)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to list cached variants: %w", err)
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, http.MethodGet) || !strings.HasSuffix(name, ".bin") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, name)
			newestMod = info.ModTime()
		}
	}
	return newest, nil
}

// AddAll fetches every path relative to base and stores the responses.
// Any transport error or non-2xx status fails the whole call before anything is written.
func (g *Generation) AddAll(ctx context.Context, client *http.Client, base *url.URL, paths []string) error {
	type fetched struct {
		url  *url.URL
		data []byte
	}
	results := make([]fetched, len(paths))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(addAllConcurrency)
	for i, p := range paths {
		i, p := i, p
		group.Go(func() error {
			ref, err := url.Parse(p)
			if err != nil {
				return fmt.Errorf("%w: invalid path %q: %v", ErrIncomplete, p, err)
			}
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, base.ResolveReference(ref).String(), nil)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrIncomplete, p, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrIncomplete, p, err)
			}
			data, err := Serialize(resp)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrIncomplete, p, err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("%w: %s returned status %d", ErrIncomplete, p, resp.StatusCode)
			}
			results[i] = fetched{url: req.URL, data: data}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if err := g.PutCapture(r.url, r.data); err != nil {
			return fmt.Errorf("failed to store %s: %w", r.url, err)
		}
	}
	return nil
}
