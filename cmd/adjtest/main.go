// Command adjtest builds every operator named in a configuration file,
// linearizes it at a synthetic trajectory and checks each adjoint with the
// dot-product test. It then steps the tangent-linear model forward and back
// and, when observation locations are requested, exercises the nonlinear
// and linear interpolators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/monitoring"
	"github.com/banshee-data/ucldas/internal/version"
)

var (
	configPath  = flag.String("config", "", "Operator configuration file (.yaml, .yml or .json)")
	seed        = flag.Uint64("seed", 1, "Seed for the random test vectors")
	nlocs       = flag.Int("nlocs", 0, "Number of synthetic observation locations (0 skips the interpolator checks)")
	plotDir     = flag.String("plots", "", "Directory for diagnostic plots (empty disables plotting)")
	tolerance   = flag.Float64("tolerance", defaultTolerance, "Maximum relative dot-product error")
	verbose     = flag.Bool("v", false, "Write operator diagnostics to stderr")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *configPath == "" {
		log.Fatal("-config is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *verbose {
		enableDiagnostics(os.Stderr)
	} else {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		Seed:      *seed,
		NLocs:     *nlocs,
		PlotDir:   *plotDir,
		Tolerance: *tolerance,
	}
	if err := run(ctx, cfg, opts, os.Stdout); err != nil {
		log.Fatalf("adjtest failed: %v", err)
	}
}
