package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gakujo-backend/lib/configutil"
	"gakujo-backend/lib/kvstore"
	"gakujo-backend/lib/restyutil"
	scraper "gakujo-backend/lib/scrapers/gakujo"
	"gakujo-backend/lib/secret"
	"gakujo-backend/services/gakujo"
	"gakujo-backend/services/notify"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gakujo",
	Short: "gakujo scrapes the Shizuoka University academic portal and keeps a local mirror of its records.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}

type Config struct {
	SchoolYear int `json:"school_year"`
	// 0..3: first/second half of first semester, then of second
	Semester     int            `json:"semester"`
	DownloadDir  string         `json:"download_dir"`
	Passphrase   string         `json:"passphrase"`
	Store        kvstore.Config `json:"store"`
	Notify       notify.Config  `json:"notify"`
	Sync         gakujo.Config  `json:"sync"`
	DebugHttpDir string         `json:"debug_http_dir"`
}

// setup assembles the whole stack from config.json5 and restores any
// persisted account. The returned cleanup function releases the store.
func setup(ctx context.Context) (gakujo.Service, func()) {
	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		fatal("failed to read config", err)
	}
	if config.Store.File == "" {
		config.Store.File = "gakujo.db"
	}
	if config.DownloadDir == "" {
		config.DownloadDir = "downloads"
	}

	if config.DebugHttpDir != "" {
		scraper.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(config.DebugHttpDir))
	}

	database, err := config.Store.OpenDB()
	if err != nil {
		fatal("failed to open store", err)
	}
	store, err := kvstore.NewStore(database)
	if err != nil {
		fatal("failed to initialize store", err)
	}

	client, err := scraper.NewClient(&scraper.Account{}, scraper.ClientOptions{
		SchoolYear:   config.SchoolYear,
		SemesterCode: config.Semester,
		DownloadDir:  config.DownloadDir,
	})
	if err != nil {
		fatal("failed to initialize portal client", err)
	}

	key := secret.DeriveKey([]byte(config.Passphrase), []byte("gakujo-backend"))
	service := gakujo.NewService(client, store, notify.FromConfig(config.Notify), key, config.Sync)

	_, err = service.RestoreAccount(ctx)
	if err != nil {
		fatal("failed to restore account", err)
	}
	return service, func() { database.Close() }
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
