package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/EmpoweredVote/EV-Geography/internal/config"
	"github.com/EmpoweredVote/EV-Geography/internal/db"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/jobs"
	"github.com/EmpoweredVote/EV-Geography/internal/logging"
	"github.com/EmpoweredVote/EV-Geography/internal/metrics"
	"github.com/EmpoweredVote/EV-Geography/internal/middleware"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")
	log := logging.Setup()
	settings := config.FromEnv()

	gdb, err := db.Connect(settings.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := geography.NewPostGISStore(gdb)
	if err := store.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("Failed to migrate geography schema")
	}

	registry := jobs.NewRegistry(ctx, jobs.PipelineRunner{
		Store:   store,
		Workers: settings.Workers,
		Log:     logging.Component("pipeline"),
	}, settings.JobsDir, logging.Component("jobs"))
	if settings.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is not set; /jobs will refuse every request")
	}

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RequestLogger(logging.Component("http")))
	r.Get("/", RootHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/jobs", registry.Routes(middleware.AdminToken(settings.AdminToken)))

	srv := &http.Server{Addr: "0.0.0.0:" + settings.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Infof("Server listening on port :%s...", settings.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server stopped")
	}
	registry.Wait()
}
