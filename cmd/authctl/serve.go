package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	ma "github.com/panyam/microauth"
	"github.com/panyam/microauth/oauth2"
)

var (
	serveAddr    string
	sweepPeriod  time.Duration
	consoleLinks bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the login endpoints under /auth",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		records, closeRecords, err := openRecords(ctx)
		if err != nil {
			return err
		}
		defer closeRecords()

		var opts []ma.IdentityStoreOption
		if cfg.Bool("login.google.enabled", false) {
			opts = append(opts, ma.WithGoogleVerifier(oauth2.NewGoogleVerifier(cfg.String("login.google.client_id", ""))))
		}
		sessions := ma.NewSessionManager(cfg, records, logger)
		providers, err := ma.NewProviderOrchestrator(cfg, logger, oauth2.Clients(ctx, cfg))
		if err != nil {
			return err
		}
		h := &ma.Handlers{
			Sessions:   sessions,
			Identities: ma.NewIdentityStore(cfg, records, logger, opts...),
			Providers:  providers,
			Config:     cfg,
			Logger:     logger,
		}
		if consoleLinks {
			h.Links = &ma.ConsoleLinkSender{Logger: logger}
		}
		r := mux.NewRouter()
		h.Routes(r.PathPrefix("/auth").Subrouter())

		if sweepPeriod > 0 {
			sessions.StartSweeper(ctx, sweepPeriod)
		}

		srv := &http.Server{Addr: serveAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Listening", "addr", serveAddr, "backend", settings.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().DurationVar(&sweepPeriod, "sweep", 10*time.Minute, "session sweep interval, 0 to disable")
	serveCmd.Flags().BoolVar(&consoleLinks, "console-links", false, "log unique-url login links for emailed requests")
	rootCmd.AddCommand(serveCmd)
}
