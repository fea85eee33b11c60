// studyctl inspects and edits the per-device learning state kept by the
// Study Buddy server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/study-buddy/internal/config"
	"github.com/ashureev/study-buddy/internal/session"
	"github.com/ashureev/study-buddy/internal/signal"
	"github.com/ashureev/study-buddy/internal/store"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// app holds what every subcommand needs once the stores are open.
type app struct {
	dbPath    string
	kvDriver  string
	redisAddr string
	deviceID  string
	timeout   time.Duration
	verbose   bool

	repo *store.SQLiteStore
	kv   store.KV
}

func (a *app) sessions() *session.Store {
	return session.New(store.Scope(a.kv, a.deviceID))
}

func (a *app) signals() *signal.Channel {
	return signal.NewChannel(store.Scope(a.kv, a.deviceID), signal.WithLogger(slog.Default()))
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) requireDevice() error {
	if a.deviceID == "" {
		return fmt.Errorf("--device is required")
	}
	return nil
}

func (a *app) open() error {
	repo, err := store.NewSQLite(a.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.repo = repo

	switch a.kvDriver {
	case config.KVDriverRedis:
		client := redis.NewClient(&redis.Options{Addr: a.redisAddr})
		a.kv, err = store.NewKV(store.KVTypeRedis, store.WithRedisClient(client))
	case config.KVDriverSQLite, "":
		a.kv, err = store.NewKV(store.KVTypeSQLite, store.WithSQLite(repo))
	default:
		err = fmt.Errorf("%w: %q", store.ErrInvalidStoreType, a.kvDriver)
	}
	if err != nil {
		_ = repo.Close()
		return err
	}
	return nil
}

func (a *app) close() {
	if a.kv != nil && a.kvDriver == config.KVDriverRedis {
		_ = a.kv.Close()
	}
	if a.repo != nil {
		_ = a.repo.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "studyctl",
		Short: "Inspect and edit Study Buddy device state",
		Long: `studyctl works directly on the server's database.

Every device (browser) owns a namespace holding its sessions and the
pending signals that pages hand to each other. Pass --device to pick one;
"studyctl devices list" shows the known devices.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return a.open()
		},
	}

	// Defaults come from the same environment the server reads.
	_ = godotenv.Load()
	root.PersistentFlags().StringVar(&a.dbPath, "db", envOr("DB_PATH", "./data/studybuddy.db"), "SQLite database path")
	root.PersistentFlags().StringVar(&a.kvDriver, "kv", envOr("KV_DRIVER", config.KVDriverSQLite), "KV driver (sqlite or redis)")
	root.PersistentFlags().StringVar(&a.redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address for --kv=redis")
	root.PersistentFlags().StringVarP(&a.deviceID, "device", "d", "", "Device id")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Operation timeout")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(newSessionsCmd(a), newSignalsCmd(a), newDevicesCmd(a))
	return root
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// execute runs one command line and releases the stores afterwards, also
// when the command fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
