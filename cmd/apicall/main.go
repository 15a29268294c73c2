// Command apicall sends one request through the gateway and prints the JSON it yields.
//
//	apicall [--config file] [-X METHOD] PATH [key=value ...]
//
// GET results are cached in the request cache, so running the same command
// while the API is unreachable prints the last successful response.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/gateway"
	"github.com/iTrooz/offline-cache/internal/logging"
	"github.com/iTrooz/offline-cache/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("apicall", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP("config", "c", "configs/config.yaml", "configuration file")
	method := flags.StringP("method", "X", http.MethodGet, "HTTP method")
	purge := flags.String("purge", "", "delete cached responses whose key starts with this prefix and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	if _, err := logging.Init(cfg.Log); err != nil {
		fmt.Fprintf(stderr, "Failed to set up logging: %v\n", err)
		return 1
	}

	ttl, err := cfg.GetCacheTTL()
	if err != nil {
		logrus.Errorf("Invalid cache TTL: %v", err)
		return 1
	}
	handle := storage.NewHandle(cfg.Cache.DBPath)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := handle.Close(closeCtx); err != nil {
			logrus.Warnf("Failed to close request cache: %v", err)
		}
	}()
	store := cache.New(handle, ttl)

	if *purge != "" {
		removed := store.DeleteByPrefix(ctx, *purge)
		fmt.Fprintf(stdout, "%d\n", removed)
		return 0
	}

	if flags.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: apicall [--config file] [-X METHOD] PATH [key=value ...]")
		return 2
	}
	if cfg.API.BaseURL == "" {
		fmt.Fprintln(stderr, "Invalid configuration: api base_url is required")
		return 1
	}

	form, err := parseForm(flags.Args()[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	timeout, err := cfg.GetAPITimeout()
	if err != nil {
		logrus.Errorf("Invalid API timeout: %v", err)
		return 1
	}
	opts := []gateway.Option{gateway.WithHTTPClient(&http.Client{Timeout: timeout})}
	if cfg.API.BearerToken != "" {
		token := cfg.API.BearerToken
		opts = append(opts, gateway.WithBearerToken(func() string { return token }))
	}
	client, err := gateway.New(cfg.API.BaseURL, store, opts...)
	if err != nil {
		logrus.Errorf("Failed to create gateway: %v", err)
		return 1
	}

	result := client.Do(ctx, flags.Arg(0), gateway.Options{Method: *method, Form: form})
	client.Flush()

	if result.FromCache {
		fmt.Fprintln(stderr, "(served from request cache)")
	}
	if _, err := stdout.Write(append(result.Data, '\n')); err != nil {
		return 1
	}
	if result.Failed() {
		return 1
	}
	return 0
}

// parseForm turns key=value arguments into form fields. Values that parse as
// JSON scalars keep their type, everything else is sent as a string.
func parseForm(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	form := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid form field %q, expected key=value", arg)
		}
		var scalar any
		if err := json.Unmarshal([]byte(value), &scalar); err == nil {
			switch scalar.(type) {
			case bool, float64, nil:
				form[key] = scalar
				continue
			}
		}
		form[key] = value
	}
	return form, nil
}
