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

// Package listener binds the TCP/TLS sockets spec.md §4.13 describes
// and hands accepted connections to an http.Server whose handler is
// the request pipeline (C12). Grounded on root listen.go/listeners.go
// (TCP bind) and caddytls/config.go's GetCertificate/NextProtos wiring
// (adapted here to delegate straight to sni.Resolver rather than a
// certmagic.Config).
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/neomody77/avalon-sub001/sni"
)

// Spec describes one listen address for one server block.
type Spec struct {
	Address string
	TLS     bool
	// HTTP2 advertises "h2, http/1.1" via ALPN when true, "http/1.1"
	// only when false.
	HTTP2 bool
}

// Server binds Spec.Address and serves Handler over it, using resolver
// for certificate selection when Spec.TLS is set.
type Server struct {
	spec     Spec
	handler  http.Handler
	resolver *sni.Resolver
	log      *zap.Logger

	httpServer *http.Server
}

// New returns a Server ready to Serve. resolver may be nil if
// spec.TLS is false.
func New(spec Spec, handler http.Handler, resolver *sni.Resolver, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{spec: spec, handler: handler, resolver: resolver, log: log}
}

// Serve binds the listen address and blocks serving connections until
// ctx is cancelled or an unrecoverable accept error occurs. A TLS
// spec's certificate-selection callback delegates to the SNI resolver
// (C2); a plaintext spec serves the handler directly, which is where
// the ACME HTTP-01 intercept (port 80) lives.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.spec.Address)
	if err != nil {
		return fmt.Errorf("listener: binding %s: %w", s.spec.Address, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.spec.TLS {
		alpn := []string{"http/1.1"}
		if s.spec.HTTP2 {
			alpn = []string{"h2", "http/1.1"}
		}
		s.httpServer.TLSConfig = &tls.Config{
			GetCertificate: s.resolver.GetCertificate,
			NextProtos:     alpn,
			MinVersion:     tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("address", s.spec.Address), zap.Bool("tls", s.spec.TLS))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
