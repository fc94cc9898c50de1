// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Command agentgateway is the standalone HTTP front-end: it loads a
// filterapi.Config, compiles it into a static proxy.Resolver routing tree,
// and serves it directly over net/http without an Envoy process in front.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentgateway/agentgateway-go/internal/filterapi"
	"github.com/agentgateway/agentgateway-go/internal/proxy"
	"github.com/agentgateway/agentgateway-go/internal/version"
)

const defaultBind proxy.Bind = "default"

type flags struct {
	configPath string
	listenAddr string
	logLevel   slog.Level
}

func parseFlags(args []string) (flags, error) {
	var (
		f    flags
		errs []error
		fs   = flag.NewFlagSet("agentgateway", flag.ContinueOnError)
	)
	fs.StringVar(&f.configPath, "configPath", "", "path to the gateway configuration file, in filterapi.Config YAML format.")
	fs.StringVar(&f.listenAddr, "listenAddr", ":8080", "address the HTTP front-end listens on.")
	logLevelPtr := fs.String("logLevel", "info", "log level. One of 'debug', 'info', 'warn', or 'error'.")

	if err := fs.Parse(args); err != nil {
		return flags{}, fmt.Errorf("failed to parse flags: %w", err)
	}
	if f.configPath == "" {
		errs = append(errs, fmt.Errorf("configPath must be provided"))
	}
	if err := f.logLevel.UnmarshalText([]byte(*logLevelPtr)); err != nil {
		errs = append(errs, fmt.Errorf("failed to unmarshal log level: %w", err))
	}
	return f, errors.Join(errs...)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: f.logLevel}))
	logger.Info("starting agentgateway", "version", version.Version, "configPath", f.configPath, "listenAddr", f.listenAddr)

	cfg, err := filterapi.UnmarshalConfigYaml(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", f.configPath, err)
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		return fmt.Errorf("failed to compile configuration into a routing tree: %w", err)
	}

	server := proxy.NewServer(resolver, nil, logger)
	return server.ListenAndServe(ctx, []proxy.BindAddress{{Bind: defaultBind, Address: f.listenAddr}})
}

// buildResolver compiles a filterapi.Config's Backends into a single static
// Listener: one HTTPRoute per distinct RouteName (backends sharing no
// RouteName each get their own route keyed by Name), with one BackendRefAI
// entry per backend targeting a single-endpoint EndpointSet. AI dispatch
// itself goes through proxy.Server's AIDispatcher seam, left unconfigured
// here; see DESIGN.md for why.
func buildResolver(cfg *filterapi.Config) (*proxy.Resolver, error) {
	routes := map[string]*proxy.HTTPRoute{}
	var order []string

	for _, b := range cfg.Backends {
		routeName := b.RouteName
		if routeName == "" {
			routeName = b.Name
		}
		rt, ok := routes[routeName]
		if !ok {
			rt = &proxy.HTTPRoute{NamespacedName: routeName}
			routes[routeName] = rt
			order = append(order, routeName)
		}

		provider, err := backendToProvider(b)
		if err != nil {
			return nil, err
		}

		set := proxy.NewEndpointSet[proxy.NamedAIProvider]()
		set.Insert(*provider)

		rt.Backends = append(rt.Backends, proxy.BackendRef{
			Kind:      proxy.BackendRefAI,
			Weight:    1,
			AIBackend: &proxy.AIBackend{Endpoints: set},
		})
	}

	listener := &proxy.Listener{Bind: defaultBind, Protocol: proxy.ProtocolHTTP}
	for _, name := range order {
		listener.HTTPRoutes = append(listener.HTTPRoutes, routes[name])
	}

	resolver := proxy.NewResolver()
	resolver.AddListener(listener)
	return resolver, nil
}

// backendToProvider translates a filterapi.Backend into the NamedAIProvider
// shape internal/proxy's EndpointSet selects over.
func backendToProvider(b filterapi.Backend) (*proxy.NamedAIProvider, error) {
	providerType, err := schemaToProviderType(b.Schema.Name)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", b.Name, err)
	}
	host := b.BaseURL
	if u, err := url.Parse(b.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &proxy.NamedAIProvider{
		Name:         b.Name,
		Provider:     providerType,
		HostOverride: host,
	}, nil
}

func schemaToProviderType(name filterapi.APISchemaName) (proxy.ProviderType, error) {
	switch name {
	case filterapi.APISchemaOpenAI:
		return proxy.ProviderOpenAI, nil
	case filterapi.APISchemaAnthropic, filterapi.APISchemaGCPAnthropic, filterapi.APISchemaAWSAnthropic:
		return proxy.ProviderAnthropic, nil
	case filterapi.APISchemaGCPVertexAI:
		return proxy.ProviderVertex, nil
	case filterapi.APISchemaAWSBedrock:
		return proxy.ProviderBedrock, nil
	case filterapi.APISchemaAzureOpenAI:
		return proxy.ProviderAzureOpenAI, nil
	default:
		return 0, fmt.Errorf("unsupported schema %q", name)
	}
}
