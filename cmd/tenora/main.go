package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/connection"
	"github.com/ViktorVelikov13/tenora/dialect"
	"github.com/ViktorVelikov13/tenora/manager"
	"github.com/ViktorVelikov13/tenora/metrics"
	"github.com/ViktorVelikov13/tenora/migrate"
	"github.com/ViktorVelikov13/tenora/observability/logger"
	"github.com/ViktorVelikov13/tenora/provision"
	"github.com/ViktorVelikov13/tenora/registry"
)

func main() {
	configPath := envOr("TENORA_CONFIG", "configs/config.yaml")

	var cfg *config.Config

	root := &cobra.Command{
		Use:           "tenora",
		Short:         "Tenant database factory: provision, migrate and connect per-tenant databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			c, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
			cfg = c
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Path to YAML config (env TENORA_CONFIG)")

	// migrate up | down [steps]
	var createDatabase bool
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Base database migrations",
	}
	migrateCmd.PersistentFlags().BoolVar(&createDatabase, "create-database", false, "Create the base database first when missing")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending base migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if createDatabase {
				created, err := provision.EnsureBaseDatabase(ctx, cfg)
				if err != nil {
					return err
				}
				if created {
					fmt.Println("base database created")
				}
			}
			db, dbName, err := openBase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			changed, err := migrate.Up(family(cfg), db, migrationsDir(cfg), dbName)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Println("already up to date")
				return nil
			}
			fmt.Println("migrations applied")
			return nil
		},
	}

	downCmd := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back base migrations (all when steps omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}
			db, dbName, err := openBase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			changed, err := migrate.Rollback(family(cfg), db, migrationsDir(cfg), dbName, steps)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Println("nothing to rollback")
				return nil
			}
			fmt.Println("rollback complete")
			return nil
		},
	}
	migrateCmd.AddCommand(upCmd, downCmd)

	// tenants migrate | rollback [steps]
	tenantsCmd := &cobra.Command{
		Use:   "tenants",
		Short: "Batch operations over all registered tenants",
	}

	tenantsMigrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run tenant migrations for every registered tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), cfg, func(ctx context.Context, m *manager.Manager) error {
				return m.MigrateTenants(ctx)
			})
		},
	}

	tenantsRollbackCmd := &cobra.Command{
		Use:   "rollback [steps]",
		Short: "Roll back tenant migrations for every registered tenant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}
			return withManager(cmd.Context(), cfg, func(ctx context.Context, m *manager.Manager) error {
				return m.RollbackTenants(ctx, steps)
			})
		},
	}
	tenantsCmd.AddCommand(tenantsMigrateCmd, tenantsRollbackCmd)

	// make migration | seed <name>
	makeCmd := &cobra.Command{
		Use:   "make",
		Short: "Generate migration and seed templates",
	}

	makeMigrationCmd := &cobra.Command{
		Use:   "migration <name>",
		Short: "Create a timestamped up/down migration pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := migrate.MakeMigration(migrationsDir(cfg), args[0])
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}

	makeSeedCmd := &cobra.Command{
		Use:   "seed <name>",
		Short: "Create a timestamped seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.MakeSeed(seedsDir(cfg), args[0])
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	makeCmd.AddCommand(makeMigrationCmd, makeSeedCmd)

	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Write the tenant registry migration (no-op when already present)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := migrate.Bootstrap(migrationsDir(cfg), family(cfg), cfg.Registry)
			if err != nil {
				return err
			}
			if paths == nil {
				fmt.Println("registry bootstrap already present")
				return nil
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Run seed files against the base database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openBase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ran, err := migrate.RunSeeds(cmd.Context(), db, seedsDir(cfg))
			if err != nil {
				return err
			}
			if len(ran) == 0 {
				fmt.Println("no seed files")
				return nil
			}
			for _, f := range ran {
				fmt.Println("OK", f)
			}
			return nil
		},
	}

	// tenant create | list
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Single-tenant operations",
	}

	var tenantPassword string
	var withUser bool
	tenantCreateCmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Provision one tenant database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tenantID := args[0]

			db, _, err := openBase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var password *string
			switch {
			case tenantPassword != "":
				password = &tenantPassword
			case withUser:
				pw := uuid.NewString()
				password = &pw
				fmt.Printf("generated password for %s: %s\n", tenantID, pw)
			}

			store := registry.New(family(cfg), cfg.Registry, registry.Hooks{})
			engine := provision.NewEngine(cfg, db, store,
				provision.WithObserver(metrics.ObserveProvision))

			outcome, err := engine.CreateTenant(ctx, tenantID, password)
			if errors.Is(err, provision.ErrAlreadyExists) {
				fmt.Printf("tenant %s already exists\n", tenantID)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("tenant %s: %s\n", tenantID, outcome)
			return nil
		},
	}
	tenantCreateCmd.Flags().StringVar(&tenantPassword, "password", "", "Dedicated tenant password (implies a dedicated login)")
	tenantCreateCmd.Flags().BoolVar(&withUser, "with-user", false, "Create a dedicated login with a generated password")

	tenantListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openBase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := registry.New(family(cfg), cfg.Registry, registry.Hooks{})
			recs, err := store.List(cmd.Context(), db)
			if err != nil {
				return err
			}
			for _, r := range recs {
				cred := "shared credentials"
				switch {
				case r.EncryptedPassword != nil:
					cred = "encrypted password"
				case r.Password != nil:
					cred = "plaintext password"
				}
				fmt.Printf("%s\t%s\n", r.ID, cred)
			}
			fmt.Printf("%d tenant(s)\n", len(recs))
			return nil
		},
	}
	tenantCmd.AddCommand(tenantCreateCmd, tenantListCmd)

	root.AddCommand(migrateCmd, tenantsCmd, makeCmd, bootstrapCmd, seedCmd, tenantCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func family(cfg *config.Config) dialect.Family {
	return dialect.Classify(cfg.Base.Client)
}

func migrationsDir(cfg *config.Config) string {
	if cfg.Base.MigrationsDir != "" {
		return cfg.Base.MigrationsDir
	}
	return "migrations"
}

func seedsDir(cfg *config.Config) string {
	if cfg.Base.SeedsDir != "" {
		return cfg.Base.SeedsDir
	}
	return "seeds"
}

// openBase opens an uncached handle to the base database and returns the
// database name migrations should be tracked under.
func openBase(ctx context.Context, cfg *config.Config) (*sql.DB, string, error) {
	d, err := connection.Base(&cfg.Base)
	if err != nil {
		return nil, "", err
	}
	db, err := connection.Open(ctx, d, cfg.Base.Pool)
	if err != nil {
		return nil, "", err
	}
	name := d.Database
	if name == "" {
		name = filepath.Base(d.Filename)
	}
	return db, name, nil
}

func withManager(ctx context.Context, cfg *config.Config, fn func(context.Context, *manager.Manager) error) error {
	store := registry.New(dialect.Classify(cfg.Base.Client), cfg.Registry, registry.Hooks{})
	m, err := manager.New(ctx, cfg, store,
		manager.WithPoolGauge(metrics.SetOpenTenantHandles),
		manager.WithMigrationObserver(metrics.ObserveMigration),
	)
	if err != nil {
		return err
	}
	defer m.DestroyAll()
	return fn(ctx, m)
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return n, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
