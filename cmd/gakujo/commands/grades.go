package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(gradesCmd)
}

var gradesCmd = &cobra.Command{
	Use:   "grades",
	Short: "Prints the last synced grade snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, cleanup := setup(cmd.Context())
		defer cleanup()

		grade, ok, err := service.SchoolGrade(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no grades synced yet, run `gakujo sync grades` first")
		}

		t := newTable()
		t.AppendHeader(table.Row{"科目", "担当教員", "単位", "評価", "得点", "GP", "修得年度"})
		for _, result := range grade.ClassResults {
			score := ""
			gp := ""
			if result.Score != 0 {
				score = fmt.Sprintf("%.0f", result.Score)
			}
			if result.Gp != 0 {
				gp = fmt.Sprintf("%.2f", result.Gp)
			}
			t.AppendRow(table.Row{
				result.Subjects, result.TeacherName, result.Credit,
				result.Evaluation, score, gp, result.AcquisitionYear,
			})
		}
		t.Render()

		gpa := grade.DepartmentGpa
		fmt.Printf("累積GPA %.2f (算出日 %s)\n", gpa.Gpa, gpa.CalculationDate.Format("2006/01/02"))
		if gpa.DepartmentRank[1] > 0 {
			fmt.Printf("学科内順位 %d / %d\n", gpa.DepartmentRank[0], gpa.DepartmentRank[1])
		}
		if gpa.CourseRank[1] > 0 {
			fmt.Printf("コース内順位 %d / %d\n", gpa.CourseRank[0], gpa.CourseRank[1])
		}
		for _, semester := range gpa.SemesterGpas {
			fmt.Printf("%s %s GPA %.2f\n", semester.Year, semester.Semester, semester.Gpa)
		}

		var total int
		for _, year := range grade.YearCredits {
			total += year.Credit
		}
		fmt.Printf("修得単位計 %d\n", total)
		return nil
	},
}
