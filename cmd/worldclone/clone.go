package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/worldclone/internal/api"
	"github.com/mattjoyce/worldclone/internal/config"
	"github.com/mattjoyce/worldclone/internal/events"
	"github.com/mattjoyce/worldclone/internal/inspect"
	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/log"
	"github.com/mattjoyce/worldclone/internal/region"
	"github.com/mattjoyce/worldclone/internal/storage"
)

func printCloneCreateHelp(action string) {
	fmt.Printf("Usage: worldclone clone %s <owner> [--config PATH] [--db PATH] [--source NAME] [--x N --y N --z N] [--radius N] [--quiet]\n", action)
	if action == "reset" {
		fmt.Println("Discard owner's clone without saving it and copy a fresh one.")
	} else {
		fmt.Println("Load owner's clone, copying it from the source world first if it does not exist.")
	}
	fmt.Println("Runs without the service; fails while a service holds the state database.")
}

func printCloneJobsHelp() {
	fmt.Println("Usage: worldclone clone jobs [owner] [--config PATH] [--limit N] [--json]")
	fmt.Println("List recent copy jobs, newest first.")
}

func printCloneInspectHelp() {
	fmt.Println("Usage: worldclone clone inspect <owner> [--config PATH] [--json]")
	fmt.Println("Show a clone's tree, coverage, settings and copy history.")
}

func printCloneTilesHelp() {
	fmt.Println("Usage: worldclone clone tiles [--config PATH] [--x N --z N] [--radius N] [--json]")
	fmt.Println("Preview the tile files a region selects without copying anything.")
}

// splitOwner lets the owner come before or after the flags.
func splitOwner(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func runCloneCreate(action string, args []string) int {
	owner, rest := splitOwner(args)

	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	source := fs.String("source", "", "Source world name (default: world.default_source)")
	x := fs.Int("x", 0, "Centre block X")
	y := fs.Int("y", 0, "Centre block Y")
	z := fs.Int("z", 0, "Centre block Z")
	radius := fs.Int("radius", 0, "Radius in blocks (default: world.radius)")
	quiet := fs.Bool("quiet", false, "Do not report copy progress")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if owner == "" && fs.NArg() > 0 {
		owner = fs.Arg(0)
	}
	if owner == "" {
		fmt.Fprintf(os.Stderr, "Usage: worldclone clone %s <owner> [flags]\n", action)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}

	spec := region.Spec{Center: region.Point{X: *x, Y: *y, Z: *z}, Radius: cfg.World.Radius}
	if flagWasSet(fs, "radius") {
		if *radius < 0 {
			fmt.Fprintln(os.Stderr, "radius must not be negative")
			return 1
		}
		spec.Radius = *radius
	}
	if *source == "" {
		*source = cfg.World.DefaultSourceName()
	}
	if *source == "" {
		fmt.Fprintln(os.Stderr, "No source world given and no default configured; use --source")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, cfg.Service.LogLevel, "text")
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
		return 1
	}

	if !*quiet {
		evs, unsubscribe := rt.hub.Subscribe(events.Filter{Types: []string{lifecycle.EventProgress}})
		reported := make(chan struct{})
		go func() {
			defer close(reported)
			reportProgress(evs, os.Stderr)
		}()
		defer func() {
			unsubscribe()
			<-reported
		}()
	}

	var fut *lifecycle.Future
	if action == "reset" {
		fut = rt.coord.Reset(owner, *source, spec)
	} else {
		fut = rt.coord.EnsureReady(owner, *source, spec)
	}
	res, waitErr := fut.Wait(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown incomplete: %v\n", err)
	}

	if waitErr != nil {
		fmt.Fprintln(os.Stderr, "Interrupted; the partial copy will be replaced next time")
		return 1
	}
	if !res.OK {
		fmt.Fprintf(os.Stderr, "Clone %s failed: %s\n", action, res)
		return 1
	}

	fmt.Printf("%s: %s\n", res.Identity, res.Message)
	fmt.Printf("path: %s\n", rt.coord.TargetRoot(res.Identity))
	if res.Source != "" {
		fmt.Printf("source: %s\n", res.Source)
	}
	return 0
}

// reportProgress prints copy progress in steps of ten percent until evs is
// closed.
func reportProgress(evs <-chan events.Event, w io.Writer) {
	last := map[string]int{}
	for ev := range evs {
		var p struct {
			Percent int `json:"percent"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			continue
		}
		prev, seen := last[ev.Identity]
		if seen && p.Percent/10 <= prev/10 {
			continue
		}
		last[ev.Identity] = p.Percent
		fmt.Fprintf(w, "copying %s: %d%%\n", ev.Identity, p.Percent)
	}
}

func runCloneJobs(args []string) int {
	owner, rest := splitOwner(args)

	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum jobs to list")
	jsonOut := fs.Bool("json", false, "Output jobs as JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if owner == "" && fs.NArg() > 0 {
		owner = fs.Arg(0)
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	identity := ""
	if owner != "" {
		if err := lifecycle.ValidateOwner(owner); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid owner: %v\n", err)
			return 1
		}
		identity = lifecycle.Naming{Prefix: cfg.World.NamePrefix}.Identity(owner)
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	recs, err := ledger.New(db).Recent(ctx, identity, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list jobs: %v\n", err)
		return 1
	}

	if *jsonOut {
		resp := api.JobsResponse{Identity: identity, Jobs: make([]api.JobResponse, 0, len(recs))}
		for _, rec := range recs {
			resp.Jobs = append(resp.Jobs, api.ToJobResponse(rec))
		}
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render jobs JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(recs) == 0 {
		fmt.Println("No jobs recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tIDENTITY\tREASON\tSOURCE\tSTATUS\tTILES\tSIZE")
	for _, rec := range recs {
		status := string(rec.Status)
		if rec.FailureKind != nil {
			status += " (" + *rec.FailureKind + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			humanize.Time(rec.StartedAt),
			rec.Identity,
			rec.Reason,
			rec.Source,
			status,
			rec.Copied, rec.Tiles,
			humanize.IBytes(uint64(rec.Bytes)),
		)
	}
	_ = tw.Flush()
	return 0
}

func runInspect(args []string) int {
	owner, rest := splitOwner(args)

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if owner == "" && fs.NArg() > 0 {
		owner = fs.Arg(0)
	}
	if owner == "" {
		fmt.Fprintln(os.Stderr, "Usage: worldclone clone inspect <owner> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	opts := inspect.Options{
		Container: cfg.World.Container,
		Layout:    layoutFor(cfg),
		Naming:    lifecycle.Naming{Prefix: cfg.World.NamePrefix},
		TileEdge:  cfg.World.TileEdge,
	}
	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, db, opts, owner)
	} else {
		report, err = inspect.BuildReport(ctx, db, opts, owner)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}

func runTiles(args []string) int {
	fs := flag.NewFlagSet("tiles", flag.ContinueOnError)
	configPath := fs.String("config", "", "Take radius, tile edge and extension from this configuration")
	x := fs.Int("x", 0, "Centre block X")
	z := fs.Int("z", 0, "Centre block Z")
	radius := fs.Int("radius", 0, "Radius in blocks (default: world.radius)")
	jsonOut := fs.Bool("json", false, "Output the selection as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	world := config.Defaults().World
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		world = cfg.World
	}

	spec := region.Spec{Center: region.Point{X: *x, Z: *z}, Radius: world.Radius}
	if flagWasSet(fs, "radius") {
		if *radius < 0 {
			fmt.Fprintln(os.Stderr, "radius must not be negative")
			return 1
		}
		spec.Radius = *radius
	}
	if spec.Radius > world.MaxRadius {
		fmt.Fprintf(os.Stderr, "radius must not exceed world.max_radius (%d)\n", world.MaxRadius)
		return 1
	}
	resp := api.NewTilesResponse(spec, world.TileEdge, world.TileExt)

	if *jsonOut {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render tiles JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	b := resp.Bounds
	fmt.Printf("%d tile(s) within %d blocks of (%d, %d); x %d..%d, z %d..%d\n",
		resp.Count, resp.Radius, resp.Center.X, resp.Center.Z, b.MinX, b.MaxX, b.MinZ, b.MaxZ)
	for _, t := range resp.Tiles {
		fmt.Printf("  %s\n", t.File)
	}
	return 0
}
