// Command tieredalloc-stat prints one point-in-time introspection
// snapshot of a running tieredalloc-introspectd daemon, or of a freshly
// constructed in-process Allocator when -local is given.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

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
		endpoint    string
		local       bool
		caCert      string
		insecure    bool
		timeout     time.Duration
	)

	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.BoolVar(&showHelp, "help", false, "show help information")
	flag.StringVar(&endpoint, "endpoint", "https://127.0.0.1:4433/stats", "tieredalloc-introspectd URL to query")
	flag.BoolVar(&local, "local", false, "report stats for a freshly constructed in-process allocator instead of querying a daemon")
	flag.StringVar(&caCert, "cacert", "", "PEM file to trust when verifying the daemon's TLS certificate (e.g. its own self-signed -cert)")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	flag.Parse()

	if showVersion {
		cli.PrintVersion("tieredalloc-stat", false)
		return
	}

	if showHelp {
		cli.PrintCommandUsage("tieredalloc-stat", cli.CommandInfo{
			Name:        "stat",
			Usage:       "tieredalloc-stat [OPTIONS]",
			Description: "print one point-in-time introspection snapshot",
			Flags: []cli.FlagInfo{
				{Name: "endpoint", Usage: "tieredalloc-introspectd URL to query", Default: "https://127.0.0.1:4433/stats"},
				{Name: "local", Usage: "report stats for a freshly constructed in-process allocator instead of querying a daemon"},
				{Name: "cacert", Usage: "PEM file to trust when verifying the daemon's TLS certificate"},
				{Name: "insecure", Usage: "skip TLS certificate verification"},
				{Name: "timeout", Usage: "request timeout", Default: "5s"},
			},
			Examples: []string{
				"tieredalloc-stat -endpoint https://10.0.0.5:4433/stats -cacert server.crt",
				"tieredalloc-stat -local",
			},
		})
		return
	}

	if local {
		printLocal()
		return
	}

	tlsCfg, err := clientTLSConfig(caCert, insecure)
	if err != nil {
		cli.ExitWithError("build TLS config: %v", err)
	}

	// tieredalloc-introspectd only ever speaks HTTP/3 over QUIC (see
	// internal/netstack.NewHTTP3Server): a stock net/http client can never
	// complete that handshake, so this must round-trip through an
	// http3.Transport that speaks the daemon's protocol.
	client := netstack.HTTP3Client(tlsCfg, timeout)

	resp, err := client.Get(endpoint)
	if err != nil {
		cli.ExitWithError("query %s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		cli.ExitWithError("read response: %v", err)
	}

	os.Stdout.Write(body)
	fmt.Println()
}

func clientTLSConfig(caCertFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{}

	if insecure {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}

	if caCertFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", caCertFile)
	}

	cfg.RootCAs = pool

	return cfg, nil
}

func printLocal() {
	cfg, err := config.Load()
	if err != nil {
		cli.ExitWithError("load config: %v", err)
	}

	a, err := tieredalloc.New(cfg)
	if err != nil {
		cli.ExitWithError("init allocator: %v", err)
	}
	defer a.Close()

	snap := introspect.Take(a)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		cli.ExitWithError("marshal snapshot: %v", err)
	}

	fmt.Println(string(data))
}
