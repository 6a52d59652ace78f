// Command tieredalloc-bench drives a configurable multi-goroutine
// malloc/free workload against the tiered allocator and reports
// throughput, grounded on the flag-driven single-binary CLI shape used
// across the example tooling (cmd/orizon-config/main.go).
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	tieredalloc "github.com/orizon-lang/tieredalloc"
	"github.com/orizon-lang/tieredalloc/internal/cli"
	"github.com/orizon-lang/tieredalloc/internal/config"
)

func main() {
	var (
		showVersion bool
		showHelp    bool
		jsonOutput  bool
		goroutines  int
		iterations  int
		minSize     int
		maxSize     int
		duration    time.Duration
	)

	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.BoolVar(&showHelp, "help", false, "show help information")
	flag.BoolVar(&jsonOutput, "json", false, "output results in JSON format")
	flag.IntVar(&goroutines, "goroutines", 8, "number of concurrent worker goroutines")
	flag.IntVar(&iterations, "iterations", 200000, "malloc/free pairs per goroutine")
	flag.IntVar(&minSize, "min-size", 16, "minimum allocation size in bytes")
	flag.IntVar(&maxSize, "max-size", 4096, "maximum allocation size in bytes")
	flag.DurationVar(&duration, "duration", 0, "if set, run until this long has elapsed instead of a fixed iteration count")
	flag.Parse()

	if showVersion {
		cli.PrintVersion("tieredalloc-bench", jsonOutput)
		return
	}

	if showHelp {
		cli.PrintCommandUsage("tieredalloc-bench", cli.CommandInfo{
			Name:        "bench",
			Usage:       "tieredalloc-bench [OPTIONS]",
			Description: "drive a concurrent malloc/free workload and report throughput",
			Flags: []cli.FlagInfo{
				{Name: "goroutines", Usage: "number of concurrent worker goroutines", Default: "8"},
				{Name: "iterations", Usage: "malloc/free pairs per goroutine", Default: "200000"},
				{Name: "min-size", Usage: "minimum allocation size in bytes", Default: "16"},
				{Name: "max-size", Usage: "maximum allocation size in bytes", Default: "4096"},
				{Name: "duration", Usage: "run until this long has elapsed instead of a fixed iteration count"},
				{Name: "json", Usage: "output results in JSON format"},
			},
			Examples: []string{
				"tieredalloc-bench -goroutines 16 -iterations 500000",
				"tieredalloc-bench -duration 10s -json",
			},
		})
		return
	}

	if minSize <= 0 || maxSize < minSize {
		cli.ExitWithError("min-size must be positive and max-size must be >= min-size")
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

	start := time.Now()
	deadline := start.Add(duration)
	var ops atomic.Int64
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()

			c := a.Bind()
			defer c.Close()

			rng := rand.New(rand.NewSource(seed))
			spread := maxSize - minSize + 1
			live := make([]unsafe.Pointer, 0, 256)
			n := 0

			for {
				if duration > 0 {
					if time.Now().After(deadline) {
						break
					}
				} else if n >= iterations {
					break
				}

				size := uintptr(minSize + rng.Intn(spread))
				p := c.Malloc(size)
				live = append(live, p)
				n++

				if len(live) > 128 || rng.Intn(4) == 0 {
					idx := rng.Intn(len(live))
					c.Free(live[idx])
					live[idx] = live[len(live)-1]
					live = live[:len(live)-1]
				}
			}

			for _, p := range live {
				c.Free(p)
			}

			ops.Add(int64(n))
		}(int64(g) + 1)
	}

	wg.Wait()
	elapsed := time.Since(start)

	total := ops.Load()
	opsPerSec := float64(total) / elapsed.Seconds()

	if jsonOutput {
		fmt.Printf(`{"goroutines":%d,"ops":%d,"elapsed_seconds":%.3f,"ops_per_second":%.1f}`+"\n",
			goroutines, total, elapsed.Seconds(), opsPerSec)
		return
	}

	fmt.Printf("goroutines=%d ops=%d elapsed=%s ops/s=%.0f\n", goroutines, total, elapsed, opsPerSec)
	os.Exit(0)
}
