// Command geoimport imports a geography job into PostGIS and renests its
// coarser geolevels.
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

	"github.com/joho/godotenv"

	"github.com/EmpoweredVote/EV-Geography/internal/config"
	"github.com/EmpoweredVote/EV-Geography/internal/db"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/logging"
	"github.com/EmpoweredVote/EV-Geography/internal/pipeline"
	"github.com/EmpoweredVote/EV-Geography/internal/progress"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// printer writes "0% .. 10% .. 100%" progress lines, one per source.
func printer(w io.Writer) func(stage string) progress.Func {
	return func(stage string) progress.Func {
		return func(pct int) {
			if pct == 0 {
				fmt.Fprintf(w, "%s: ", stage)
			}
			if pct >= 100 {
				fmt.Fprintln(w, "100%")
				return
			}
			fmt.Fprintf(w, "%d%% .. ", pct)
		}
	}
}

// openStore connects to PostGIS and migrates the geography schema. A dry run
// imports into memory instead and never touches the database.
func openStore(ctx context.Context, dryRun bool, dsn string) (geography.Store, func(), error) {
	if dryRun {
		return geography.NewMemoryStore(), func() {}, nil
	}
	gdb, err := db.Connect(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	store := geography.NewPostGISStore(gdb)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate geography schema: %w", err)
	}
	return store, func() { db.Close() }, nil
}

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to the job YAML")
		dbURL     = flag.String("db", "", "DATABASE_URL (defaults to the environment)")
		views     = flag.Bool("views", false, "create per-subject map views")
		workers   = flag.Int("workers", 0, "renest workers (overrides RENEST_WORKERS and the job file)")
		quiet     = flag.Bool("quiet", false, "do not print progress")
		dryRun    = flag.Bool("dry-run", false, "import into memory and report counts without writing to the database")
		geolevels stringList
		nest      stringList
	)
	flag.Var(&geolevels, "geolevel", "geolevel to import, by name or index (repeatable)")
	flag.Var(&nest, "nest", "geolevel to renest, by name or index (repeatable)")
	flag.Parse()

	if *cfgPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load(".env.local")
	log := logging.Setup()
	settings := config.FromEnv()
	if *dbURL != "" {
		settings.DatabaseURL = *dbURL
	}
	if *workers > 0 {
		settings.Workers = *workers
	}

	job, err := config.Load(*cfgPath)
	if err != nil {
		log.WithError(err).Fatal("invalid job config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, *dryRun, settings.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open geography store")
	}
	defer closeStore()
	if *dryRun {
		log.Info("dry run: nothing is written to the database")
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logging.Component("pipeline")),
		pipeline.WithWorkers(settings.Workers),
	}
	if !*quiet {
		opts = append(opts, pipeline.WithProgress(printer(os.Stdout)))
	}

	sel := pipeline.Selection{
		Import: geolevels,
		Renest: nest,
		All:    len(geolevels) == 0 && len(nest) == 0,
		Views:  *views,
	}
	summary, runErr := pipeline.New(job, store, opts...).Run(ctx, sel)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(summary)

	if runErr != nil {
		log.WithError(runErr).Error("import finished with errors")
		os.Exit(1)
	}
}
