package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/larrykvit/loadcell-calibration/calhttp"
	"github.com/larrykvit/loadcell-calibration/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose the jig over HTTP",
		Long: `Serve binds the run endpoints and the live websocket feed on addr.
Runs started over HTTP are recorded under dataDir exactly as the run
verb records its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := currentConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), c)
		},
	}
}

// storeRecorder adapts the store to the HTTP server's recorder interface.
type storeRecorder struct {
	st *store.Store
}

func (r storeRecorder) Begin(start time.Time) (calhttp.RunRecord, error) {
	return r.st.Begin(start)
}

func serve(ctx context.Context, c Config) error {
	bench, err := buildBench(c)
	if err != nil {
		return err
	}
	log := logrus.StandardLogger()
	srv := calhttp.NewServer(bench.Runner, storeRecorder{st: bench.Store})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	rt := srv.RT()
	rt.Bind(r)
	for _, ep := range rt.Endpoints() {
		log.WithField("route", ep).Info("bound")
	}

	hs := &http.Server{Addr: c.Addr, Handler: r}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", c.Addr).Info("listening")
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	return g.Wait()
}
