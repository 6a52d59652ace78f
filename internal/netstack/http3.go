// Package netstack wraps quic-go's HTTP/3 server and client lifecycle for
// the introspection daemon and its CLI reader (SPEC_FULL.md §4.9). Adapted
// from the teacher's internal/runtime/netstack/http3.go, trimmed to drop
// the QUIC-tuning option structs (MaxIdleTimeout/KeepAlivePeriod/0-RTT)
// neither tieredalloc-introspectd nor tieredalloc-stat configures, and
// with the server/client constructors' duplicated TLS-1.3-enforcement
// block factored into one helper.
package netstack

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

// enforceTLS13 returns a config guaranteed to negotiate TLS 1.3 and the h3
// ALPN, cloning tlsCfg only if it needs adjusting (QUIC/HTTP3 requires
// TLS 1.3; see RFC 9001 §4).
func enforceTLS13(tlsCfg *tls.Config) *tls.Config {
	if tlsCfg == nil {
		return &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}
	}

	if tlsCfg.MinVersion >= tls.VersionTLS13 && len(tlsCfg.NextProtos) > 0 {
		return tlsCfg
	}

	c := tlsCfg.Clone()
	c.MinVersion = tls.VersionTLS13

	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{"h3"}
	}

	return c
}

// HTTP3Server wraps http3.Server lifecycle with a Start/Stop pair that
// resolves an ephemeral port when addr ends in ":0".
type HTTP3Server struct {
	pc    net.PacketConn
	srv   *http3.Server
	close func() error
	errC  chan error
	addr  string
}

// NewHTTP3Server creates a server bound to addr, enforcing TLS 1.3 as
// QUIC/HTTP3 requires.
func NewHTTP3Server(addr string, tlsCfg *tls.Config, h http.Handler) *HTTP3Server {
	s := &http3.Server{Addr: addr, TLSConfig: enforceTLS13(tlsCfg), Handler: h}

	return &HTTP3Server{srv: s, addr: addr, errC: make(chan error, 1)}
}

// Start begins serving HTTP/3 on an ephemeral UDP port if addr ends with
// ":0"; use the returned address to discover the actual bound port.
func (s *HTTP3Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}

	s.pc = pc
	realAddr := pc.LocalAddr().String()
	done := make(chan struct{})

	go func() {
		if err := s.srv.Serve(s.pc); err != nil {
			select {
			case s.errC <- err:
			default:
			}
		}

		close(done)
	}()

	s.close = func() error {
		_ = s.pc.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}

		return nil
	}

	return realAddr, nil
}

// Stop closes the listening socket and waits briefly for the serve
// goroutine to exit.
func (s *HTTP3Server) Stop() error {
	if s.close != nil {
		return s.close()
	}

	return nil
}

// Error returns a non-blocking channel that receives the first serve
// error, if any.
func (s *HTTP3Server) Error() <-chan error { return s.errC }

// HTTP3Client returns an http.Client that round-trips over QUIC/HTTP3
// instead of net/http's default TCP transport, for callers that query an
// HTTP3Server (tieredalloc-stat against tieredalloc-introspectd). A plain
// *http.Client would never complete the QUIC handshake a server built with
// NewHTTP3Server speaks.
func HTTP3Client(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	tr := &http3.Transport{TLSClientConfig: enforceTLS13(tlsCfg)}

	return &http.Client{Transport: tr, Timeout: timeout}
}
