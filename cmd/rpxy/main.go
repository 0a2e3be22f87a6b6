package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/rpxy/internal/certstore"
	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/frontend/http1h2"
	"github.com/cuemby/rpxy/internal/frontend/http3"
	"github.com/cuemby/rpxy/internal/frontend/tlsaccept"
	"github.com/cuemby/rpxy/internal/healthcheck"
	"github.com/cuemby/rpxy/internal/log"
	"github.com/cuemby/rpxy/internal/metrics"
	"github.com/cuemby/rpxy/internal/proxyengine"
	"github.com/cuemby/rpxy/internal/router"
	"github.com/cuemby/rpxy/internal/signals"
)

var (
	// Version information (set via ldflags during build).
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rpxy",
	Short:   "rpxy - multi-tenant HTTPS reverse proxy",
	Long:    `rpxy terminates TLS by SNI and routes requests to per-tenant backend applications over HTTP/1.1, HTTP/2, and HTTP/3.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"rpxy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	runCmd.Flags().String("config", "rpxy.toml", "Path to the TOML configuration file")
	runCmd.Flags().Int("admin-port", 9090, "Port for the metrics and health admin listener")
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	if env := os.Getenv("LOG_LEVEL"); env != "" && !rootCmd.PersistentFlags().Changed("log-level") {
		logLevel = env
	}
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the proxy until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		adminPort, _ := cmd.Flags().GetInt("admin-port")

		metrics.SetVersion(Version)

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		store := certstore.New()
		acmeMgr, err := wireACME(store, cfg)
		if err != nil {
			return fmt.Errorf("configuring ACME: %w", err)
		}
		if err := store.Reload(cfg); err != nil {
			return fmt.Errorf("loading certificates: %w", err)
		}
		if acmeMgr != nil {
			if obtainMissing(store, acmeMgr, cfg) {
				if err := store.Reload(cfg); err != nil {
					return fmt.Errorf("loading certificates after acme issuance: %w", err)
				}
			}
			acmeMgr.StartRenewalLoop(make(chan struct{}))
		}
		metrics.UpdateComponent("certstore", true, "")

		idx, err := router.Build(cfg)
		if err != nil {
			return fmt.Errorf("building router: %w", err)
		}
		metrics.UpdateComponent("router", true, "")

		engine := proxyengine.New()
		engine.Reload(idx)
		engine.GracefulTimeout = cfg.GracefulTimeout
		if cfg.ListenPortH3 > 0 {
			engine.AltSvc = http3.AltSvcValue(cfg.ListenPortH3)
		}

		stop := make(chan struct{})
		engine.StartBackgroundLoops(stop)

		monitor := buildHealthMonitor(idx)
		if monitor != nil {
			monitor.Start()
			defer monitor.Stop()
		}

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		tlsConfig := tlsaccept.Build(store)

		var plainSrv, tlsSrv *http.Server
		var h3Srv *http3.Server
		if cfg.ListenPort > 0 {
			plainSrv = http1h2.NewPlainServer(cfg, engine)
			go serveOrLog(plainSrv.ListenAndServe, "http listener")
		}
		if cfg.ListenPortTLS > 0 {
			tlsSrv = http1h2.NewTLSServer(cfg, tlsConfig, engine)
			go serveOrLog(func() error { return tlsSrv.ListenAndServeTLS("", "") }, "https listener")
		}
		if cfg.ListenPortH3 > 0 {
			h3Srv = http3.New(cfg, tlsConfig, engine)
			go serveOrLog(h3Srv.ListenAndServe, "http/3 listener")
		}

		admin := buildAdminServer(adminPort)
		go serveOrLog(admin.ListenAndServe, "admin listener")

		log.Info(fmt.Sprintf("rpxy started (http=%d https=%d h3=%d admin=%d)",
			cfg.ListenPort, cfg.ListenPortTLS, cfg.ListenPortH3, adminPort))

		notifier := signals.New()
		defer notifier.Stop()

		for {
			select {
			case <-notifier.Reload:
				log.Info("reload signal received, rebuilding configuration")
				if newCfg, err := config.Load(configPath); err != nil {
					log.Event(log.ErrorLevel).Err(err).Msg("reload failed, keeping previous configuration")
				} else if err := applyReload(engine, store, newCfg); err != nil {
					log.Event(log.ErrorLevel).Err(err).Msg("reload failed, keeping previous configuration")
				} else {
					cfg = newCfg
					log.Info("reload complete")
				}

			case <-notifier.Shutdown:
				log.Info("shutdown signal received, draining connections")
				close(stop)

				ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
				if plainSrv != nil {
					shutdownOne(ctx, "http", plainSrv.Shutdown)
				}
				if tlsSrv != nil {
					shutdownOne(ctx, "https", tlsSrv.Shutdown)
				}
				if h3Srv != nil {
					shutdownOne(ctx, "http/3", func(context.Context) error { return h3Srv.Close() })
				}
				shutdownOne(ctx, "admin", admin.Shutdown)
				cancel()

				log.Info("shutdown complete")
				return nil
			}
		}
	},
}

func applyReload(engine *proxyengine.Engine, store *certstore.Store, cfg *config.Config) error {
	idx, err := router.Build(cfg)
	if err != nil {
		return err
	}
	if err := store.Reload(cfg); err != nil {
		return err
	}
	engine.Reload(idx)
	return nil
}

// wireACME attaches one ACMEManager to store, shared by every
// ACME-managed application (one lego account, one local cache). It
// does not call Reload itself: the caller reloads afterward so
// Store.Reload can consult the manager's cache (including anything
// loaded from disk on this call) for every ACME-managed application.
func wireACME(store *certstore.Store, cfg *config.Config) (*certstore.ACMEManager, error) {
	var acmeApps []*config.Application
	for _, app := range cfg.Apps {
		if app.TLS != nil && app.TLS.ACME != nil {
			acmeApps = append(acmeApps, app)
		}
	}
	if len(acmeApps) == 0 {
		return nil, nil
	}

	first := acmeApps[0].TLS.ACME
	mgr, err := certstore.NewACMEManager(first, first.Contact, "rpxy-acme.db")
	if err != nil {
		return nil, err
	}
	store.WithACME(mgr)
	return mgr, nil
}

// obtainMissing requests a fresh certificate for any ACME-managed
// application the cache didn't already cover, returning true if at
// least one was obtained (so the caller knows to reload the store).
func obtainMissing(store *certstore.Store, mgr *certstore.ACMEManager, cfg *config.Config) bool {
	obtained := false
	for _, app := range cfg.Apps {
		if app.TLS == nil || app.TLS.ACME == nil {
			continue
		}
		if _, ok := store.NotAfter(app.ServerName); ok {
			continue
		}
		if err := mgr.Obtain([]string{app.ServerName}); err != nil {
			log.Event(log.ErrorLevel).Err(err).Str("server_name", app.ServerName).Msg("initial acme issuance failed")
			continue
		}
		obtained = true
	}
	return obtained
}

func buildHealthMonitor(idx *router.Index) *healthcheck.Monitor {
	// No route config carries a health_check block, so there are no
	// targets and no monitor is built.
	_ = idx
	return nil
}

func buildAdminServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/livez", metrics.LivenessHandler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveOrLog(listen func() error, name string) {
	if err := listen(); err != nil && err != http.ErrServerClosed {
		log.Event(log.ErrorLevel).Err(err).Str("listener", name).Msg("listener exited")
	}
}

func shutdownOne(ctx context.Context, name string, shutdown func(context.Context) error) {
	if err := shutdown(ctx); err != nil {
		log.Event(log.WarnLevel).Err(err).Str("listener", name).Msg("listener did not shut down cleanly")
	}
}
