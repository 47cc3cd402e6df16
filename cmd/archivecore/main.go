// Command archivecore converts one or more tar, tar.gz, or zip archives
// into a single columnar Parquet file recording each surviving entry's
// source archive, internal path, size, content digest, and content.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/archivecore/archivecore"
	"github.com/archivecore/archivecore/internal/batch"
	"github.com/archivecore/archivecore/internal/extract"
	"github.com/archivecore/archivecore/internal/registry"
	"github.com/archivecore/archivecore/internal/sink"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, done := context.WithCancel(context.Background())
	defer done()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		<-ch
		done()
	}()

	fs := flag.NewFlagSet("archivecore", flag.ContinueOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: archivecore [flags] <input>...\n\n")
		fmt.Fprintf(out, "Each <input> is a path to a tar, tar.gz, or zip archive, or \"-\" for stdin.\n\n")
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "output Parquet file path (required)")
	minSize := fs.Uint64("min-size", 300, "minimum entry size in bytes; smaller entries are skipped")
	maxSize := fs.Uint64("max-size", 0, "maximum entry size in bytes; 0 means unbounded")
	maxDepth := fs.Uint("max-depth", 0, "maximum nested-archive recursion depth; 0 disables recursion")
	onlyText := fs.Bool("only-text", false, "skip entries that are not valid UTF-8 and decode surviving content as text")
	unique := fs.Bool("unique", false, "deduplicate entries by content hash, in-batch and across the whole run")
	threads := fs.Int("threads", runtime.GOMAXPROCS(0), "number of concurrent extraction workers")
	ignoreUnsupported := fs.Bool("ignore-unsupported", false, "silently skip top-level inputs that don't sniff as a supported archive")
	compression := fs.String("compression", "zstd", "output compression codec: zstd, snappy, gzip, or none")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics at http://<addr>/metrics for the duration of the run")
	verbose := fs.Bool("v", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *output == "" || fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).
		With().Timestamp().Logger().Level(level)
	zlog.Set(&l)

	runID := uuid.New().String()
	ctx = zlog.ContextWithValues(ctx, "component", "cmd/archivecore", "run_id", runID)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zlog.Debug(ctx).Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	cfg := archivecore.Config{
		MinSize:           *minSize,
		OnlyText:          *onlyText,
		Unique:            *unique,
		Threads:           *threads,
		IgnoreUnsupported: *ignoreUnsupported,
		Compression:       *compression,
	}
	if *maxSize > 0 {
		cfg.MaxSize = maxSize
	}
	if *maxDepth > 0 {
		d := uint32(*maxDepth)
		cfg.MaxDepth = &d
	}

	reg := registry.New()
	for _, arg := range fs.Args() {
		if arg == "-" {
			reg.AddReader("-", io.NopCloser(os.Stdin))
			continue
		}
		if _, err := reg.AddPath(arg); err != nil {
			log.Printf("archivecore: %v", err)
			return 1
		}
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Printf("archivecore: %v", err)
		return 1
	}

	w, err := sink.New(f, batch.Schema(cfg.OnlyText), cfg.Compression, cfg.Unique)
	if err != nil {
		f.Close()
		log.Printf("archivecore: %v", err)
		return 1
	}

	progress := func(label string, c archivecore.Counts, err error) {
		ev := zlog.Debug(ctx).Str("input", label).Uint64("read", c.Read).Uint64("written", c.Written)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("finished input")
	}
	counts, runErr := extract.Run(ctx, cfg, reg, w, progress)
	finalCounts, closeErr := w.Close()
	if cerr := f.Close(); cerr != nil && closeErr == nil {
		closeErr = cerr
	}

	if runErr != nil {
		log.Printf("archivecore: %v", runErr)
		return 1
	}
	if closeErr != nil {
		log.Printf("archivecore: %v", closeErr)
		return 1
	}

	fmt.Fprintf(os.Stdout, "read=%d skipped=%d deduplicated=%d written=%d\n",
		counts.Read, counts.Skipped, counts.Deduplicated, finalCounts.Written)
	return 0
}
