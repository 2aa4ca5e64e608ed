package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/speechkit/internal/config"
	"github.com/dgnsrekt/speechkit/internal/speech"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

var (
	serveAddr    string
	servePreload bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run background maintenance and expose metrics",
		Long: paragraph(fmt.Sprintf("\nKeep the speech core running: expired items are swept, old usage records purged and limit edits in the config file applied live. %s are served over HTTP.",
			keyword("Prometheus metrics"))),
		Example: paragraph("speechkit serve\nspeechkit serve --addr :9464 --preload"),
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
)

func runServe(cmd *cobra.Command, _ []string) error {
	svc, err := openService(false)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.Start()
	if viper.ConfigFileUsed() != "" {
		config.WatchLimits(viper.GetViper(), func(l config.LimitsConfig) {
			c := cfg
			c.Limits = l
			if err := svc.SetLimits(c.UsageLimits()); err != nil {
				log.Warn("Could not apply usage limits", "error", err)
			}
		})
	}

	if servePreload {
		go func() {
			n, err := svc.Preload(ctx)
			if err != nil && !ttypes.IsCancellation(err) {
				log.Warn("Preload stopped", "error", err)
				return
			}
			log.Info("Preloaded phrases", "count", n)
		}()
	}

	addr := cfg.MetricsAddr
	if cmd.Flags().Changed("addr") {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServeMux(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", addr, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on %s\n", keyword("http://"+ln.Addr().String()+"/metrics"))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newServeMux(svc *speech.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(svc.Status())
	})
	r.Handle("/metrics", registry.Handler())
	return r
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&servePreload, "preload", false, "cache common phrases on start")
}
