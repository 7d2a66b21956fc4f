// Copyright 2015 The Avalon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neomody77/avalon-sub001/acmeclient"
	"github.com/neomody77/avalon-sub001/adminauth"
	"github.com/neomody77/avalon-sub001/avconfig"
	"github.com/neomody77/avalon-sub001/avlog"
	"github.com/neomody77/avalon-sub001/certstore"
	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/listener"
	"github.com/neomody77/avalon-sub001/metrics"
	"github.com/neomody77/avalon-sub001/pipeline"
	"github.com/neomody77/avalon-sub001/ratelimit"
	"github.com/neomody77/avalon-sub001/renew"
	"github.com/neomody77/avalon-sub001/route"
	"github.com/neomody77/avalon-sub001/sni"
	"github.com/neomody77/avalon-sub001/tracing"
)

const adminShutdownTimeout = 5 * time.Second

func newRunCommand() *cobra.Command {
	var configPath, logLevel string
	var testOnly bool
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if testOnly {
				return runValidate(configPath)
			}
			return runServe(configPath, avlog.ResolveLevel(logLevel), adminAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", avconfig.DefaultPath, "path to the TOML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "trace|debug|info|warn|error (overrides AVALON_LOG)")
	cmd.Flags().BoolVar(&testOnly, "test", false, "validate the config and exit, equivalent to 'avalon validate'")
	cmd.Flags().StringVar(&adminAddr, "admin", "127.0.0.1:9090", "address to serve /metrics on")
	return cmd
}

// runServe wires every component together and serves until SIGINT/
// SIGTERM, per spec.md §6/§9's component graph.
func runServe(configPath, logLevel, adminAddr string) error {
	log, err := avlog.New(logLevel)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := avconfig.Load(configPath)
	if err != nil {
		log.Error("config error", zap.Error(err))
		return &exitError{code: 1, err: err}
	}

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	tracerProvider, err := tracing.New("avalon", nil)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	tracing.SetGlobal(tracerProvider)

	pools, err := cfg.BuildPools()
	if err != nil {
		log.Error("config error building pools", zap.Error(err))
		return &exitError{code: 1, err: err}
	}
	for _, p := range pools {
		p.Start()
	}
	defer func() {
		for _, p := range pools {
			p.Stop()
		}
	}()

	table, err := cfg.BuildTable(0)
	if err != nil {
		log.Error("config error building routes", zap.Error(err))
		return &exitError{code: 1, err: err}
	}
	routeHolder := route.NewHolder(table)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Burst, cfg.RateLimit.WindowSecs)
		defer limiter.Stop()
	}

	hookExec := hooks.NewExecutor()
	pluginRegistry, err := wireOptionalPlugins(cfg, hookExec)
	if err != nil {
		log.Error("config error wiring optional plugins", zap.Error(err))
		return &exitError{code: 1, err: err}
	}
	defer teardownPlugins(pluginRegistry, allPluginNames)

	resolver := sni.New(log)
	challenges := acmeclient.NewChallengeMap()

	var store *certstore.Store
	var acme *acmeclient.Client
	var scheduler *renew.Scheduler
	domains := routeDomains(cfg)

	if cfg.TLS.ACMEEnabled {
		store, err = certstore.New(cfg.TLS.StoragePath)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		acme = acmeclient.New(store, challenges, cfg.TLS.ACMECA, cfg.TLS.Email, log)
		scheduler = renew.New(store, resolver, acme, domains, renew.DefaultInterval, renew.DefaultThreshold, log)
		scheduler.OnRenewed(func(domain string, err error) {
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			collectors.ACMERenewalsTotal.WithLabelValues(domain, outcome).Inc()
		})

		for _, domain := range domains {
			if bundle, err := store.Get(domain); err == nil {
				if leaf, err := tls.X509KeyPair([]byte(bundle.CertChainPEM), []byte(bundle.PrivateKeyPEM)); err == nil {
					resolver.Add(domain, &sni.Pair{Leaf: &leaf})
				}
			}
		}
	}

	pipe := pipeline.New(routeHolder, pools, hookExec, log)
	pipe.Limiter = limiter
	pipe.Challenges = challenges
	pipe.Metrics = collectors

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	servers := buildListeners(cfg, pipe, resolver, log)
	for _, srv := range servers {
		srv := srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				log.Error("listener stopped with error", zap.Error(err))
			}
		}()
	}

	adminHandler := adminauth.Guard(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		cfg.Admin.Username,
		[]byte(cfg.Admin.PasswordHash),
	)
	adminServer := &http.Server{Addr: adminAddr, Handler: adminHandler}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("admin listener stopped with error", zap.Error(err))
		}
	}()

	watcher, err := avconfig.NewWatcher(configPath, log)
	if err == nil {
		watcher.OnChange(func(newCfg *avconfig.Config) {
			newTable, err := newCfg.BuildTable(table.Generation + 1)
			if err != nil {
				log.Error("reload: rejecting config", zap.Error(err))
				return
			}
			routeHolder.Store(newTable)
			log.Info("reload: installed new route table", zap.Uint64("generation", newTable.Generation))
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				log.Warn("config watcher stopped with error", zap.Error(err))
			}
		}()
		defer watcher.Close() //nolint:errcheck
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
	defer shutdownCancel()
	_ = adminServer.Shutdown(shutdownCtx)
	_ = tracerProvider.Shutdown(shutdownCtx)

	wg.Wait()
	return nil
}

func buildListeners(cfg *avconfig.Config, handler http.Handler, resolver *sni.Resolver, log *zap.Logger) []*listener.Server {
	var servers []*listener.Server
	seen := make(map[string]bool)
	for _, sb := range cfg.Servers {
		for _, lc := range sb.Listeners() {
			if seen[lc.Address] {
				continue
			}
			seen[lc.Address] = true
			spec := listener.Spec{Address: lc.Address, TLS: lc.TLS, HTTP2: lc.TLS}
			servers = append(servers, listener.New(spec, handler, resolver, log))
		}
	}
	return servers
}

// routeDomains collects the distinct exact hostnames named by any
// route's match.host across every server block, as the set of domains
// the renewal scheduler should manage. Wildcard patterns are skipped:
// ACME HTTP-01 cannot validate a wildcard name.
func routeDomains(cfg *avconfig.Config) []string {
	seen := make(map[string]bool)
	var domains []string
	for _, sb := range cfg.Servers {
		for _, rc := range sb.Routes {
			for _, host := range rc.Match.Host {
				if host == "" || strings.Contains(host, "*") || seen[host] {
					continue
				}
				seen[host] = true
				domains = append(domains, host)
			}
		}
	}
	return domains
}
