package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gakujo-backend/services/gakujo"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var featureSyncs = map[string]func(context.Context, gakujo.Service) error{
	"news": func(ctx context.Context, s gakujo.Service) error {
		diff, err := s.SyncNews(ctx)
		reportDiff("news", len(diff), err)
		return err
	},
	"reports": func(ctx context.Context, s gakujo.Service) error {
		diff, err := s.SyncReports(ctx)
		reportDiff("reports", len(diff), err)
		return err
	},
	"quizzes": func(ctx context.Context, s gakujo.Service) error {
		diff, err := s.SyncQuizzes(ctx)
		reportDiff("quizzes", len(diff), err)
		return err
	},
	"contacts": func(ctx context.Context, s gakujo.Service) error {
		diff, err := s.SyncClassContacts(ctx)
		reportDiff("contacts", len(diff), err)
		return err
	},
	"sharedfiles": func(ctx context.Context, s gakujo.Service) error {
		diff, err := s.SyncSharedFiles(ctx)
		reportDiff("sharedfiles", len(diff), err)
		return err
	},
	"classtables": func(ctx context.Context, s gakujo.Service) error {
		_, err := s.SyncClassTables(ctx)
		reportDiff("classtables", 0, err)
		return err
	},
	"grades": func(ctx context.Context, s gakujo.Service) error {
		diff, err := s.SyncSchoolGrade(ctx)
		reportDiff("grades", len(diff), err)
		return err
	},
	"lottery": func(ctx context.Context, s gakujo.Service) error {
		_, err := s.SyncLotteryRegistrations(ctx)
		reportDiff("lottery", 0, err)
		return err
	},
	"lotteryresults": func(ctx context.Context, s gakujo.Service) error {
		_, err := s.SyncLotteryResults(ctx)
		reportDiff("lotteryresults", 0, err)
		return err
	},
	"registrations": func(ctx context.Context, s gakujo.Service) error {
		_, err := s.SyncRegistrations(ctx)
		reportDiff("registrations", 0, err)
		return err
	},
}

func reportDiff(feature string, count int, err error) {
	if err != nil {
		slog.Error("sync failed", "feature", feature, "err", err)
		return
	}
	slog.Info("sync finished", "feature", feature, "new", count)
}

var syncCmd = &cobra.Command{
	Use:   "sync [feature]",
	Short: "Syncs every feature, or just the one given as an argument.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, cleanup := setup(cmd.Context())
		defer cleanup()

		if len(args) == 1 {
			run, ok := featureSyncs[args[0]]
			if !ok {
				return fmt.Errorf("unknown feature %q", args[0])
			}
			return run(cmd.Context(), service)
		}

		t1 := time.Now()
		err := service.SyncAll(cmd.Context())
		slog.Info("sync time", "seconds", time.Since(t1).Seconds())
		return err
	},
}
