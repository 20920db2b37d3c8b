package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/internal/version"
	"github.com/hrygo/vecmem/store"
	"github.com/hrygo/vecmem/store/db"
	"github.com/hrygo/vecmem/store/metrics"
)

var rootCmd = &cobra.Command{
	Use:           "vecmem",
	Short:         `A vector-augmented key-value memory store with similarity search.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			// Ignore the error if the file doesn't exist.
			_ = godotenv.Load()
		}
		setupLogger(viper.GetString("mode"))
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)
	viper.SetDefault("schema", "public")
	viper.SetDefault("vector-index", "none")

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of vecmem, can be "prod" or "dev" or "demo"`)
	flags.String("addr", "", "address of the ops server")
	flags.Int("port", 28090, "port of the ops server")
	flags.String("data", "", "data directory, used for the default sqlite file")
	flags.String("driver", "sqlite", "database driver (postgres, sqlite, sqlite3)")
	flags.String("dsn", "", "database source name(aka. DSN)")
	flags.String("schema", "public", "postgres schema, or sqlite namespace, holding the collections")
	flags.Int("vector-size", 0, "embedding dimension shared by every collection, 0 accepts any dimension")
	flags.String("vector-index", "none", "ANN index created with each postgres collection (none, hnsw, ivfflat)")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn", "schema", "vector-size", "vector-index"} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("vecmem")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	for key, env := range map[string]string{
		"driver":      "VECMEM_DRIVER",
		"dsn":         "VECMEM_DSN",
		"vector-size": "VECMEM_VECTOR_SIZE",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(
		newCollectionCmd(),
		newUpsertCmd(),
		newGetCmd(),
		newRemoveCmd(),
		newSearchCmd(),
		newImportCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
}

func setupLogger(mode string) {
	level := slog.LevelInfo
	if mode == "dev" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadProfile builds the profile from flags, environment and .env.
func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:        viper.GetString("mode"),
		Addr:        viper.GetString("addr"),
		Port:        viper.GetInt("port"),
		Data:        viper.GetString("data"),
		Driver:      viper.GetString("driver"),
		DSN:         viper.GetString("dsn"),
		Schema:      viper.GetString("schema"),
		VectorSize:  viper.GetInt("vector-size"),
		VectorIndex: viper.GetString("vector-index"),
		Version:     version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

// openStore connects, migrates and returns a store whose driver is
// instrumented with exporter.
func openStore(ctx context.Context, instanceProfile *profile.Profile, exporter *metrics.PrometheusExporter) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		return nil, err
	}

	var driver store.Driver = dbDriver
	if exporter != nil {
		driver = metrics.NewDriver(dbDriver, exporter)
	}

	storeInstance := store.New(driver)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		printDatabaseError(err, instanceProfile)
		return nil, err
	}
	return storeInstance, nil
}

// withStore runs fn against a freshly opened store and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.Store, p *profile.Profile) error) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	storeInstance, err := openStore(ctx, instanceProfile, nil)
	if err != nil {
		return err
	}
	defer storeInstance.Close()
	return fn(ctx, storeInstance, instanceProfile)
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for database connection issues
func printDatabaseError(err error, instanceProfile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL is not reachable. Check the host and port in the DSN.")
		fmt.Fprintln(os.Stderr, "  Or use SQLite instead: VECMEM_DRIVER=sqlite")
	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL SSL configuration mismatch. Add ?sslmode=disable to the DSN.")
	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL authentication failed. Check the credentials in the DSN or .env file.")
	case strings.Contains(errMsg, `extension "vector"`):
		fmt.Fprintln(os.Stderr, "  The pgvector extension is not installed on the server.")
	case strings.Contains(errMsg, "permission denied"):
		fmt.Fprintf(os.Stderr, "  Permission denied. Run: GRANT ALL ON SCHEMA %s TO <user>;\n", instanceProfile.Schema)
	default:
		fmt.Fprintln(os.Stderr, "  Error:", errMsg)
	}
	if instanceProfile.IsDev() && instanceProfile.DSN != "" {
		fmt.Fprintf(os.Stderr, "  Driver: %s, DSN: %s\n", instanceProfile.Driver, instanceProfile.DSN)
	}
}

func main() {
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
