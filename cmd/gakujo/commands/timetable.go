package commands

import (
	"fmt"
	"strings"

	"gakujo-backend/lib/textutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(timetableCmd)
}

var timetableCmd = &cobra.Command{
	Use:   "timetable",
	Short: "Prints the last synced timetable.",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, cleanup := setup(cmd.Context())
		defer cleanup()

		classTable, ok, err := service.ClassTable(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no timetable synced yet, run `gakujo sync classtables` first")
		}

		t := newTable()
		header := table.Row{""}
		for w := 0; w < 5; w++ {
			header = append(header, textutil.WeekdayLabel(w))
		}
		t.AppendHeader(header)

		for p := 0; p < 7; p++ {
			row := table.Row{textutil.PeriodLabel(p)}
			for w := 0; w < 5; w++ {
				cell := classTable[p][w]
				if cell.SubjectsName == "" {
					row = append(row, "")
					continue
				}
				var lines []string
				lines = append(lines, cell.SubjectsComposite())
				if cell.ClassRoom != "" {
					lines = append(lines, cell.ClassRoom)
				}
				if cell.ReportCount > 0 {
					lines = append(lines, fmt.Sprintf("レポート %d件", cell.ReportCount))
				}
				if cell.QuizCount > 0 {
					lines = append(lines, fmt.Sprintf("小テスト %d件", cell.QuizCount))
				}
				row = append(row, strings.Join(lines, "\n"))
			}
			t.AppendRow(row)
		}
		t.Render()
		return nil
	},
}
