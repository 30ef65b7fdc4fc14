package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"github.com/EvgenSuit/My-Speechy/internal/config"
	"github.com/EvgenSuit/My-Speechy/internal/credentials"
	"github.com/EvgenSuit/My-Speechy/internal/database"
	"github.com/EvgenSuit/My-Speechy/internal/emulator"
	"github.com/EvgenSuit/My-Speechy/internal/firebaseauth"
	"github.com/EvgenSuit/My-Speechy/internal/localstore"
	"github.com/EvgenSuit/My-Speechy/internal/logging"
	"github.com/EvgenSuit/My-Speechy/internal/purge"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	opCLI           = "cli"
	opOpenBackend   = "cli.open_backend"
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCommand(config.NewViper(), stdout)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return accounts.ExitCode(err)
	}
	return 0
}

type cli struct {
	viper   *viper.Viper
	cfgFile string
	stdout  io.Writer
}

func newRootCommand(configViper *viper.Viper, stdout io.Writer) *cobra.Command {
	c := &cli{viper: configViper, stdout: stdout}

	rootCmd := &cobra.Command{
		Use:           "accountctl EMAIL",
		Short:         "Look up a My Speechy account by email and optionally delete it",
		Args:          exactlyOneEmail,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLookup(cmd.Context(), args[0])
		},
	}

	c.setupFlags(rootCmd)
	rootCmd.AddCommand(c.newCreateCommand(), c.newEmulatorCommand())
	return rootCmd
}

func exactlyOneEmail(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return accounts.Errorf(accounts.InvalidInput, opCLI, "expected exactly one email argument, got %d", len(args))
	}
	return nil
}

func (c *cli) setupFlags(cmd *cobra.Command) {
	defaults := config.NewViper()
	persistent := cmd.PersistentFlags()
	persistent.StringVar(&c.cfgFile, "config", "", "Path to configuration file")
	persistent.String("credentials-file", defaults.GetString("credentials.file"), "Service account key file")
	persistent.String("database-url", defaults.GetString("backend.database_url"), "Realtime Database URL of the Firebase project")
	persistent.String("project-id", defaults.GetString("backend.project_id"), "Firebase project id (defaults to the key file's project)")
	persistent.String("storage-bucket", defaults.GetString("backend.storage_bucket"), "Storage bucket holding profile pictures")
	persistent.String("driver", defaults.GetString("backend.driver"), "Identity backend driver (firebase, sqlite)")
	persistent.String("sqlite-path", defaults.GetString("sqlite.path"), "SQLite database path for the sqlite driver and the emulator")
	persistent.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	persistent.String("log-format", defaults.GetString("log.format"), "Log format (console, json)")
	persistent.Bool("require-provider", defaults.GetBool("report.require_provider"), "Fail when the account has no linked provider")

	cmd.Flags().Bool("delete", defaults.GetBool("delete.enabled"), "Delete the account after reporting it")
	cmd.Flags().Bool("purge-data", defaults.GetBool("delete.purge_data"), "Remove the user's app data before deleting the account")

	c.bindFlag(persistent.Lookup("credentials-file"), "credentials.file")
	c.bindFlag(persistent.Lookup("database-url"), "backend.database_url")
	c.bindFlag(persistent.Lookup("project-id"), "backend.project_id")
	c.bindFlag(persistent.Lookup("storage-bucket"), "backend.storage_bucket")
	c.bindFlag(persistent.Lookup("driver"), "backend.driver")
	c.bindFlag(persistent.Lookup("sqlite-path"), "sqlite.path")
	c.bindFlag(persistent.Lookup("log-level"), "log.level")
	c.bindFlag(persistent.Lookup("log-format"), "log.format")
	c.bindFlag(persistent.Lookup("require-provider"), "report.require_provider")
	c.bindFlag(cmd.Flags().Lookup("delete"), "delete.enabled")
	c.bindFlag(cmd.Flags().Lookup("purge-data"), "delete.purge_data")
}

func (c *cli) bindFlag(flag *pflag.Flag, key string) {
	if err := c.viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func (c *cli) initConfig() error {
	if c.cfgFile == "" {
		return nil
	}
	c.viper.SetConfigFile(c.cfgFile)
	if err := c.viper.ReadInConfig(); err != nil {
		return accounts.NewError(accounts.ConfigurationError, opCLI, fmt.Errorf("read config %s: %w", c.cfgFile, err))
	}
	return nil
}

// environment is everything a run needs, built from configuration.
type environment struct {
	cfg     config.AppConfig
	logger  *zap.Logger
	backend accounts.Backend
	purger  accounts.DataPurger
	closers []func() error
}

func (e *environment) close() {
	for index := len(e.closers) - 1; index >= 0; index-- {
		if err := e.closers[index](); err != nil {
			e.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func (c *cli) loadConfig() (config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(c.viper)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, accounts.NewError(accounts.ConfigurationError, opCLI, err)
	}
	return cfg, logger, nil
}

func (c *cli) openEnvironment(ctx context.Context) (*environment, error) {
	cfg, logger, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	env := &environment{cfg: cfg, logger: logger}

	switch cfg.Driver {
	case config.DriverSQLite:
		store, closeStore, err := openLocalStore(cfg.SQLitePath, logger)
		if err != nil {
			env.close()
			return nil, err
		}
		env.backend = store
		env.closers = append(env.closers, closeStore)
	default:
		if err := env.openFirebase(ctx); err != nil {
			env.close()
			return nil, err
		}
	}
	return env, nil
}

func (e *environment) openFirebase(ctx context.Context) error {
	account, err := credentials.Load(e.cfg.CredentialsFile, time.Now())
	if err != nil {
		return err
	}
	session, err := firebaseauth.NewSession(firebaseauth.SessionConfig{
		Credentials:       account,
		DatabaseURL:       e.cfg.DatabaseURL,
		ProjectID:         e.cfg.ProjectID,
		StorageBucket:     e.cfg.StorageBucket,
		VerifyCredentials: e.cfg.VerifyCredentials,
		Logger:            e.logger,
	})
	if err != nil {
		return err
	}
	if err := session.Initialize(ctx); err != nil {
		return err
	}
	e.backend = session

	if !e.cfg.PurgeData {
		return nil
	}
	app, err := session.App()
	if err != nil {
		return err
	}
	clients, err := purge.OpenFirebase(ctx, app, e.cfg.StorageBucket, session.ClientOptions()...)
	if err != nil {
		return err
	}
	e.closers = append(e.closers, clients.Close)
	purger, err := clients.Purger(e.logger)
	if err != nil {
		return accounts.NewError(accounts.ConfigurationError, opOpenBackend, err)
	}
	e.purger = purger
	return nil
}

func openLocalStore(path string, logger *zap.Logger) (*localstore.Store, func() error, error) {
	db, err := database.OpenSQLite(path, logger)
	if err != nil {
		return nil, nil, accounts.NewError(accounts.BackendUnavailable, opOpenBackend, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, accounts.NewError(accounts.BackendUnavailable, opOpenBackend, err)
	}
	store, err := localstore.NewStore(localstore.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, accounts.NewError(accounts.ConfigurationError, opOpenBackend, err)
	}
	return store, sqlDB.Close, nil
}

func (e *environment) service(stdout io.Writer) (*accounts.Service, error) {
	service, err := accounts.NewService(accounts.ServiceConfig{
		Backend:         e.backend,
		Purger:          e.purger,
		Output:          stdout,
		Logger:          e.logger,
		RequireProvider: e.cfg.RequireProvider,
	})
	if err != nil {
		return nil, accounts.NewError(accounts.ConfigurationError, opCLI, err)
	}
	return service, nil
}

func (c *cli) runLookup(ctx context.Context, email string) error {
	env, err := c.openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	service, err := env.service(c.stdout)
	if err != nil {
		return err
	}
	_, err = service.Run(ctx, accounts.RunRequest{
		Email:     email,
		Delete:    env.cfg.DeleteEnabled,
		PurgeData: env.cfg.PurgeData,
	})
	return err
}

func (c *cli) newCreateCommand() *cobra.Command {
	var providerID, displayName string
	cmd := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Create an account, optionally linking an identity provider",
		Args:  exactlyOneEmail,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := c.openEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			service, err := env.service(c.stdout)
			if err != nil {
				return err
			}
			_, err = service.CreateUser(cmd.Context(), accounts.NewUser{
				Email:       args[0],
				DisplayName: displayName,
				ProviderID:  providerID,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&providerID, "provider", "", "Provider id to link, e.g. password or google.com")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name for the account")
	return cmd
}

func (c *cli) newEmulatorCommand() *cobra.Command {
	defaults := config.NewViper()
	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Serve a local auth emulator backed by the SQLite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.viper.Set("backend.driver", config.DriverSQLite)
			cfg, logger, err := c.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, closeStore, err := openLocalStore(cfg.SQLitePath, logger)
			if err != nil {
				return err
			}
			defer closeStore() //nolint:errcheck

			handler, err := emulator.NewHTTPHandler(emulator.Dependencies{Store: store, Logger: logger})
			if err != nil {
				return accounts.NewError(accounts.ConfigurationError, opCLI, err)
			}
			return serve(cmd.Context(), cfg.EmulatorAddress, handler, logger)
		},
	}
	cmd.Flags().String("address", defaults.GetString("emulator.address"), "Emulator listen address")
	c.bindFlag(cmd.Flags().Lookup("address"), "emulator.address")
	return cmd
}

func serve(ctx context.Context, address string, handler http.Handler, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth emulator listening",
			zap.String("address", address),
			zap.String("env", firebaseauth.EnvAuthEmulatorHost+"="+address))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return accounts.NewError(accounts.ConfigurationError, opCLI, err)
		}
		return nil
	}
}
