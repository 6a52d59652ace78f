// Command tieredalloc-introspectd runs a single in-process Allocator and
// serves its stats snapshot over HTTP/3 at GET /stats (SPEC_FULL.md §4.9).
// It never touches the allocation fast path: every request takes a fresh
// introspect.Take, which itself only holds each heap's lock long enough to
// copy counters out.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tieredalloc "github.com/orizon-lang/tieredalloc"
	"github.com/orizon-lang/tieredalloc/internal/cli"
	"github.com/orizon-lang/tieredalloc/internal/config"
	"github.com/orizon-lang/tieredalloc/internal/introspect"
	"github.com/orizon-lang/tieredalloc/internal/netstack"
)

func main() {
	var (
		showVersion bool
		showHelp    bool
		addr        string
		certFile    string
		keyFile     string
	)

	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.BoolVar(&showHelp, "help", false, "show help information")
	flag.StringVar(&addr, "addr", "127.0.0.1:4433", "UDP address to serve HTTP/3 on")
	flag.StringVar(&certFile, "cert", "", "TLS certificate file (required, HTTP/3 mandates TLS 1.3)")
	flag.StringVar(&keyFile, "key", "", "TLS key file (required)")
	flag.Parse()

	if showVersion {
		cli.PrintVersion("tieredalloc-introspectd", false)
		return
	}

	if showHelp {
		cli.PrintCommandUsage("tieredalloc-introspectd", cli.CommandInfo{
			Name:        "introspectd",
			Usage:       "tieredalloc-introspectd -cert <path> -key <path> [OPTIONS]",
			Description: "serve a running allocator's stats snapshot over HTTP/3",
			Flags: []cli.FlagInfo{
				{Name: "addr", Usage: "UDP address to serve HTTP/3 on", Default: "127.0.0.1:4433"},
				{Name: "cert", Usage: "TLS certificate file", Required: true},
				{Name: "key", Usage: "TLS key file", Required: true},
			},
			Examples: []string{
				"tieredalloc-introspectd -cert server.crt -key server.key",
			},
		})
		return
	}

	if certFile == "" || keyFile == "" {
		cli.ExitWithError("-cert and -key are both required")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		cli.ExitWithError("load TLS certificate: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		cli.ExitWithError("load config: %v", err)
	}

	a, err := tieredalloc.New(cfg)
	if err != nil {
		cli.ExitWithError("init allocator: %v", err)
	}
	defer a.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		snap := introspect.Take(a)
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h3"},
		ClientCAs:    x509.NewCertPool(),
	}

	srv := netstack.NewHTTP3Server(addr, tlsCfg, mux)

	bound, err := srv.Start()
	if err != nil {
		cli.ExitWithError("start HTTP/3 server: %v", err)
	}

	fmt.Printf("tieredalloc-introspectd listening on https://%s/stats\n", bound)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		_ = srv.Stop()
	case err := <-srv.Error():
		cli.ExitWithError("http3 server: %v", err)
	}
}
