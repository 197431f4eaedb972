package gakujo

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gakujo-backend/lib/htmlutil"
	"gakujo-backend/lib/textutil"
	"gakujo-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// GetSchoolGrade assembles the full grade picture from the six
// subsystem screens: per-class results, per-evaluation credit sums,
// GPA history with rank standing, the two rank distribution charts
// and per-year credit totals. A missing results table means no grades
// have been published; the caller gets nil.
func (c *Client) GetSchoolGrade(ctx context.Context) (*SchoolGrade, error) {
	ctx, span := tracer.Start(ctx, "client:GetSchoolGrade")
	defer span.End()

	doc, err := c.getPage(ctx, "/kyoumu/seisekiSearchStudentInit.do?mainMenuCode=008&parentMenuCode=007")
	if err != nil {
		span.SetStatus(codes.Error, "results fetch failed")
		return nil, err
	}
	results, err := extractClassResults(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "results parse failed")
		return nil, err
	}
	if results == nil {
		return nil, nil
	}
	grade := &SchoolGrade{ClassResults: results}

	doc, err = c.getPage(ctx, "/kyoumu/hyoukabetuTaniSearch.do")
	if err != nil {
		span.SetStatus(codes.Error, "evaluation credits fetch failed")
		return nil, err
	}
	grade.EvaluationCredits = extractEvaluationCredits(doc)

	doc, err = c.getPage(ctx, "/kyoumu/gpa.do")
	if err != nil {
		span.SetStatus(codes.Error, "gpa fetch failed")
		return nil, err
	}
	err = extractDepartmentGpa(doc, &grade.DepartmentGpa)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gpa parse failed")
		return nil, err
	}

	res, err := c.Http.R().SetContext(ctx).Get("/kyoumu/gpaImage.do")
	if err != nil {
		span.SetStatus(codes.Error, "gpa chart fetch failed")
		return nil, err
	}
	grade.DepartmentGpa.DepartmentImage = base64.StdEncoding.EncodeToString(res.Body())

	doc, err = c.getPage(ctx, "/kyoumu/departmentGpa.do")
	if err != nil {
		span.SetStatus(codes.Error, "rank fetch failed")
		return nil, err
	}
	err = extractGpaRanks(doc, &grade.DepartmentGpa)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rank parse failed")
		return nil, err
	}

	res, err = c.Http.R().SetContext(ctx).Get("/kyoumu/departmentGpaImage.do")
	if err != nil {
		span.SetStatus(codes.Error, "rank chart fetch failed")
		return nil, err
	}
	grade.DepartmentGpa.CourseImage = base64.StdEncoding.EncodeToString(res.Body())

	doc, err = c.getPage(ctx, "/kyoumu/nenbetuTaniSearch.do")
	if err != nil {
		span.SetStatus(codes.Error, "year credits fetch failed")
		return nil, err
	}
	grade.YearCredits = extractYearCredits(doc)

	return grade, nil
}

// extractClassResults parses the per-class results table. Score and
// grade-point columns are blank for pass/fail subjects.
func extractClassResults(doc *goquery.Document) ([]ClassResult, error) {
	table := doc.Find("table.txt12").First()
	if table.Length() == 0 {
		return nil, nil
	}
	var results []ClassResult
	var parseErr error
	htmlutil.DirectRows(table).Each(func(i int, row *goquery.Selection) {
		if i < 1 || parseErr != nil {
			return
		}
		cells := htmlutil.DirectCells(row)
		if cells.Length() < 11 {
			parseErr = structureErr("class results", fmt.Sprintf("row %d", i))
			return
		}
		result := ClassResult{
			Subjects:         textutil.CollapseSpace(cells.Eq(0).Text()),
			TeacherName:      textutil.CollapseSpace(cells.Eq(1).Text()),
			SubjectsSection:  textutil.CollapseSpace(cells.Eq(2).Text()),
			SelectionSection: textutil.CollapseSpace(cells.Eq(3).Text()),
			Credit:           atoiOr0(textutil.CollapseSpace(cells.Eq(4).Text())),
			Evaluation:       textutil.CollapseSpace(cells.Eq(5).Text()),
			AcquisitionYear:  textutil.CollapseSpace(cells.Eq(8).Text()),
			TestType:         textutil.CollapseSpace(cells.Eq(10).Text()),
		}
		if score := textutil.CollapseSpace(cells.Eq(6).Text()); score != "" {
			result.Score, _ = strconv.ParseFloat(score, 64)
		}
		if gp := textutil.CollapseSpace(cells.Eq(7).Text()); gp != "" {
			result.Gp, _ = strconv.ParseFloat(gp, 64)
		}
		result.ReportDate, parseErr = textutil.ParseDateTime(textutil.CollapseSpace(cells.Eq(9).Text()))
		if parseErr != nil {
			return
		}
		results = append(results, result)
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if results == nil {
		return nil, nil
	}
	return results, nil
}

func gradeInnerTable(doc *goquery.Document) *goquery.Selection {
	return doc.Find("body > table:nth-of-type(2) table").First()
}

func extractEvaluationCredits(doc *goquery.Document) []EvaluationCredit {
	var credits []EvaluationCredit
	htmlutil.DirectRows(gradeInnerTable(doc)).Each(func(_ int, row *goquery.Selection) {
		cells := htmlutil.DirectCells(row)
		if cells.Length() < 2 {
			return
		}
		credits = append(credits, EvaluationCredit{
			Evaluation: textutil.CollapseSpace(cells.Eq(0).Text()),
			Credit:     atoiOr0(textutil.CollapseSpace(cells.Eq(1).Text())),
		})
	})
	return credits
}

// extractDepartmentGpa parses the GPA history page: current grade and
// cumulative GPA up top, one row per semester in between, and the
// calculation date in the last row.
func extractDepartmentGpa(doc *goquery.Document, gpa *DepartmentGpa) error {
	rows := htmlutil.DirectRows(gradeInnerTable(doc))
	if rows.Length() < 4 {
		return structureErr("gpa", "history table")
	}
	cell := func(row, col int) string {
		return textutil.CollapseSpace(htmlutil.DirectCells(rows.Eq(row)).Eq(col).Text())
	}
	gpa.Grade = atoiOr0(strings.ReplaceAll(cell(0, 1), "年", ""))
	gpa.Gpa, _ = strconv.ParseFloat(cell(1, 1), 64)

	gpa.SemesterGpas = nil
	for i := 2; i < rows.Length()-1; i++ {
		// year and semester share a cell, separated by a full-width space
		parts := strings.Split(cell(i, 0), "　")
		if len(parts) < 2 {
			return structureErr("gpa", fmt.Sprintf("semester row %d", i))
		}
		value, _ := strconv.ParseFloat(cell(i, 1), 64)
		gpa.SemesterGpas = append(gpa.SemesterGpas, SemesterGpa{
			Year:     strings.TrimSpace(parts[0]),
			Semester: strings.TrimSpace(parts[1]),
			Gpa:      value,
		})
	}

	date, err := time.ParseInLocation("2006年 01月 02日", cell(rows.Length()-1, 1), timezone.Location)
	if err != nil {
		return structureErr("gpa", "calculation date")
	}
	gpa.CalculationDate = date
	return nil
}

// extractGpaRanks parses the standing page. Each rank cell reads
// "N人中　M位": cohort size then place, again split on a full-width
// space. The department row is second from the bottom, the course row
// is last.
func extractGpaRanks(doc *goquery.Document, gpa *DepartmentGpa) error {
	rows := htmlutil.DirectRows(gradeInnerTable(doc))
	if rows.Length() < 2 {
		return structureErr("gpa ranks", "standing table")
	}
	parse := func(row int) ([2]int, error) {
		text := textutil.CollapseSpace(htmlutil.DirectCells(rows.Eq(row)).Eq(1).Text())
		parts := strings.Split(text, "　")
		if len(parts) < 2 {
			return [2]int{}, structureErr("gpa ranks", fmt.Sprintf("row %d", row))
		}
		place := atoiOr0(strings.ReplaceAll(parts[1], "位", ""))
		cohort := atoiOr0(strings.ReplaceAll(parts[0], "人中", ""))
		return [2]int{place, cohort}, nil
	}
	department, err := parse(rows.Length() - 2)
	if err != nil {
		return err
	}
	course, err := parse(rows.Length() - 1)
	if err != nil {
		return err
	}
	gpa.DepartmentRank = department
	gpa.CourseRank = course
	return nil
}

func extractYearCredits(doc *goquery.Document) []YearCredit {
	var credits []YearCredit
	htmlutil.DirectRows(gradeInnerTable(doc)).Each(func(i int, row *goquery.Selection) {
		if i < 1 {
			return
		}
		cells := htmlutil.DirectCells(row)
		if cells.Length() < 2 {
			return
		}
		credits = append(credits, YearCredit{
			Year:   textutil.CollapseSpace(cells.Eq(0).Text()),
			Credit: atoiOr0(textutil.CollapseSpace(cells.Eq(1).Text())),
		})
	})
	return credits
}
