package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/georoute-io/georoute/internal/config"
	"github.com/georoute-io/georoute/internal/health"
	"github.com/georoute-io/georoute/internal/logging"
	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/region"
	"github.com/georoute-io/georoute/internal/replication"
	"github.com/georoute-io/georoute/internal/routing"
)

// AdminOptions holds what the one-shot commands need.
type AdminOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	MetaStore metadata.MetadataStore
	Directory *region.Directory
}

// initAdminOpts connects the KV store and loads the directory. Logs go to
// stderr at warn so command output stays clean.
func initAdminOpts(ctx context.Context, configPath string) (*AdminOptions, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(logging.Config{
		Level:  logging.LevelWarn,
		Format: logging.ParseFormat(cfg.Observability.LogFormat),
		Output: os.Stderr,
	})

	meta, err := openMetadataStore(ctx, cfg.Metadata)
	if err != nil {
		return nil, nil, err
	}
	dir, err := loadDirectory(ctx, meta, cfg.Regions, logger)
	if err != nil {
		meta.Close()
		return nil, nil, err
	}
	return &AdminOptions{
		Config:    cfg,
		Logger:    logger,
		MetaStore: meta,
		Directory: dir,
	}, func() { meta.Close() }, nil
}

func adminFlags(name, usage string) (*flag.FlagSet, *string, *bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Printf("Usage: georouted %s [options]\n\n%s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs, configPath, jsonOutput
}

func mustInit(ctx context.Context, configPath string) (*AdminOptions, func()) {
	opts, cleanup, err := initAdminOpts(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return opts, cleanup
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}

func runRoute(args []string) {
	fs, configPath, jsonOutput := adminFlags("route", "Print the region and origin georouted would pick for a country.")
	country := fs.String("country", "", "ISO 3166-1 alpha-2 country code (empty for weighted routing)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	opts, cleanup := mustInit(ctx, *configPath)
	defer cleanup()

	engine := routing.NewEngine(opts.Directory)
	var (
		d   routing.Decision
		err error
	)
	if *country == "" {
		d, err = engine.RouteWeighted()
	} else {
		d, err = engine.Route(strings.ToUpper(*country))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	writeDecision(os.Stdout, d, *jsonOutput)
}

func writeDecision(out io.Writer, d routing.Decision, asJSON bool) {
	if asJSON {
		printJSON(out, d)
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tORIGIN\tURL\tREASON\tFALLBACK")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", d.Region.ID, d.Origin.ID, d.Origin.URL, d.Reason, d.Fallback)
	w.Flush()
}

func runCheck(args []string) {
	fs, configPath, jsonOutput := adminFlags("check",
		"Probe every origin once, save the results and print region health.\nExits 2 when any region has no healthy origin.")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	opts, cleanup := mustInit(ctx, *configPath)
	defer cleanup()

	cfg := opts.Config.Health
	mon := health.NewMonitor(opts.Directory, health.NewHTTPProber(cfg.ProbePath), health.MonitorConfig{
		ProbeTimeout: cfg.ProbeTimeout,
		Concurrency:  cfg.Concurrency,
		Logger:       opts.Logger,
	})
	if _, err := mon.PerformHealthChecks(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	statuses := mon.GetHealthStatus()
	writeHealth(os.Stdout, statuses, *jsonOutput)

	for _, s := range statuses {
		if !s.Healthy {
			os.Exit(2)
		}
	}
}

func writeHealth(out io.Writer, statuses []region.HealthStatus, asJSON bool) {
	if asJSON {
		printJSON(out, statuses)
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tHEALTHY\tORIGINS\tAVG_LATENCY_MS")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%t\t%d/%d\t%.1f\n", s.RegionID, s.Healthy, s.AvailableOrigins, s.TotalOrigins, s.AvgLatencyMs)
	}
	w.Flush()
}

func runRegions(args []string) {
	fs, configPath, jsonOutput := adminFlags("regions", "List the region directory.")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	opts, cleanup := mustInit(ctx, *configPath)
	defer cleanup()

	writeRegions(os.Stdout, opts.Directory.Regions(), *jsonOutput)
}

func writeRegions(out io.Writer, regions []region.Region, asJSON bool) {
	if asJSON {
		printJSON(out, regions)
		return
	}
	if len(regions) == 0 {
		fmt.Fprintln(out, "No regions found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tCOUNTRIES\tFALLBACK\tORIGINS")
	for _, r := range regions {
		fallback := r.Fallback
		if fallback == "" {
			fallback = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d/%d\n", r.ID, r.Name, r.Priority,
			strings.Join(r.Countries, ","), fallback, len(r.HealthyOrigins()), len(r.Origins))
	}
	w.Flush()
}

func runJobs(args []string) {
	fs, configPath, jsonOutput := adminFlags("jobs", "List finished replication jobs, newest first.")
	limit := fs.Int("limit", 20, "Maximum number of jobs to list (0 for all)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	opts, cleanup := mustInit(ctx, *configPath)
	defer cleanup()

	// Listing reads persisted records only; no workers are started.
	r := replication.New(nil, opts.MetaStore, replication.Config{Logger: opts.Logger})
	jobs, err := r.ListJobs(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	writeJobs(os.Stdout, jobs, *jsonOutput)
}

func writeJobs(out io.Writer, jobs []replication.Job, asJSON bool) {
	if asJSON {
		printJSON(out, jobs)
		return
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSOURCE\tTARGETS\tPATHS\tPROGRESS\tERRORS\tSTARTED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d%%\t%d\t%s\n", j.ID, j.Status, j.SourceRegion,
			strings.Join(j.TargetRegions, ","), len(j.Paths), j.Progress, len(j.Errors),
			j.StartedAt.Format(time.RFC3339))
	}
	w.Flush()
}
