// Command approvalctl administers the approval engine's database: schema
// migrations, approver resolution checks and budget rule audits.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/config"
	"github.com/garyjia/procure-approval/internal/container"
	"github.com/garyjia/procure-approval/pkg/database"
	"github.com/garyjia/procure-approval/pkg/utils"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what a subcommand needs: loaded config, a logger and the database
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		configPath string
		verbose    bool
	)
	a := &app{out: out}

	rootCmd := &cobra.Command{
		Use:           "approvalctl",
		Short:         "Administer the procurement approval engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level := "error"
			if verbose {
				level = "debug"
			}
			logger, err := utils.NewLogger(utils.LoggerConfig{Level: level, OutputPath: "stderr", Format: "console"})
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (defaults and environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(a.migrateCmd())
	rootCmd.AddCommand(a.resolveCmd())
	rootCmd.AddCommand(a.rulesCmd())

	return rootCmd
}

// openDB opens the configured database without applying migrations
func (a *app) openDB() (*database.DB, error) {
	return database.New(database.Config{
		Path:         a.cfg.Database.Path,
		MaxOpenConns: 1,
	}, a.logger)
}

// services opens the database, brings the schema up to date and builds the
// application services. The returned func closes the database.
func (a *app) services(ctx context.Context) (*container.ServiceBundle, func(), error) {
	dbCfg := a.cfg.ToContainerConfig().Database
	dbCfg.AutoMigrate = true

	bundle, err := container.ProvideDatabase(ctx, &dbCfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { _ = bundle.DB.Close() }

	repos, err := container.ProvideRepositories(bundle.SqlDB, a.logger)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	services, err := container.ProvideServices(&container.ServiceDeps{
		Repos:     repos,
		TxManager: bundle.TransactionMgr,
		Logger:    a.logger,
	})
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return services, closeDB, nil
}
