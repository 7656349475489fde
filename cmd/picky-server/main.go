// Command picky-server runs the HTTP API spec section 6.1 describes: a
// small X.509 CA service fronted by one of four pluggable storage
// backends. It mirrors boulder's own cmd/* convention of a cobra root
// command with subcommands wrapping a single shared config/wiring path,
// rather than one binary per subcommand.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/backend/file"
	"github.com/pickyca/picky-ca/backend/memory"
	"github.com/pickyca/picky-ca/backend/mongostore"
	"github.com/pickyca/picky-ca/backend/sqlstore"
	"github.com/pickyca/picky-ca/blog"
	"github.com/pickyca/picky-ca/issuance"
	"github.com/pickyca/picky-ca/picconfig"
	"github.com/pickyca/picky-ca/web"
	"github.com/pickyca/picky-ca/wfe"
)

// defaultAddr is the bind address spec section 6.4 names.
const defaultAddr = "0.0.0.0:12345"

func main() {
	root := &cobra.Command{
		Use:   "picky-server",
		Short: "a small private X.509 certificate authority",
	}
	fs := picconfig.FlagSet()
	root.PersistentFlags().AddFlagSet(fs)

	root.AddCommand(newServeCmd(fs))
	root.AddCommand(newBootstrapCmd(fs))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd(fs *pflag.FlagSet) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "bootstrap the CA hierarchy (if needed) and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, ctrl, err := wireUp(fs)
			if err != nil {
				return err
			}

			w := wfe.New(ctrl, log, wfe.Config{
				Realm:           cfg.Realm,
				APIKey:          cfg.APIKey,
				KeyConfig:       cfg.KeyConfig,
				LeafValidity:    cfg.LeafValidity,
				SaveCertificate: cfg.SaveCertificate,
			})
			handler := web.NewTopHandler(log, w)

			log.Infof("picky-server listening on %s", addr)
			return http.ListenAndServe(addr, handler)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address")
	return cmd
}

func newBootstrapCmd(fs *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "create the Root and Intermediate CA material and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, _, err := wireUp(fs)
			if err != nil {
				return err
			}
			log.Infof("bootstrap complete")
			return nil
		},
	}
}

// wireUp loads configuration, constructs the configured backend, and
// bootstraps the issuance Controller -- the one wiring path both serve and
// bootstrap share, so the two subcommands never drift in what "ready to
// issue" means.
func wireUp(fs *pflag.FlagSet) (*picconfig.ServerConfig, blog.Logger, *issuance.Controller, error) {
	cfg, err := picconfig.Load(fs, os.Getenv)
	if err != nil {
		return nil, nil, nil, err
	}

	log := blog.New(cfg.Realm)

	be, err := openBackend(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	metrics := issuance.NewMetrics(prometheus.NewRegistry())
	ctrl := issuance.NewController(be, clock.New(), log, metrics)

	bootstrapCfg := issuance.BootstrapConfig{
		Realm:                cfg.Realm,
		SignatureHashType:    cfg.KeyConfig,
		RootValidity:         cfg.RootValidity,
		IntermediateValidity: cfg.IntermediateValidity,
	}
	if cfg.RootCertPEM != "" {
		bootstrapCfg.RootCertPEM = []byte(cfg.RootCertPEM)
	}
	if cfg.RootKeyPEM != "" {
		bootstrapCfg.RootKeyPEM = []byte(cfg.RootKeyPEM)
	}
	if cfg.IntermediateCertPEM != "" {
		bootstrapCfg.IntermediateCertPEM = []byte(cfg.IntermediateCertPEM)
	}
	if cfg.IntermediateKeyPEM != "" {
		bootstrapCfg.IntermediateKeyPEM = []byte(cfg.IntermediateKeyPEM)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ctrl.Bootstrap(ctx, bootstrapCfg); err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: %w", err)
	}

	return cfg, log, ctrl, nil
}

// openBackend dispatches on cfg.Backend to construct the configured
// storage driver, per spec section 4.10's four-driver roster. sqlite is
// named in picconfig.Backend for parity with the original implementation's
// BackendType enum but has no driver here, matching spec section 4.10's
// note that it is intentionally unwired.
func openBackend(cfg *picconfig.ServerConfig) (backend.Backend, error) {
	switch cfg.Backend {
	case picconfig.BackendMemory:
		return memory.New(), nil
	case picconfig.BackendFile:
		return file.New(cfg.SaveFilePath)
	case picconfig.BackendMySQL:
		return sqlstore.New(cfg.DatabaseURL)
	case picconfig.BackendMongoDB:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mongostore.New(ctx, cfg.DatabaseURL, cfg.Realm)
	default:
		return nil, backend.ErrBackendUnavailable
	}
}
