package gakujo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gakujo-backend/lib/htmlutil"
	"gakujo-backend/lib/mdconv"
	"gakujo-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

var halfTermLabels = [4]string{"(前期前半)", "(前期後半)", "(後期前半)", "(後期後半)"}

// GetClassTables refreshes the timetable grid in place. The per-cell
// detail and syllabus screens are slow, so a cell is only refetched
// when its course codes changed since the cached copy.
func (c *Client) GetClassTables(ctx context.Context, table *ClassTable) error {
	ctx, span := tracer.Start(ctx, "client:GetClassTables")
	defer span.End()

	doc, err := c.getPage(ctx, "/kyoumu/rishuuInit.do?mainMenuCode=005&parentMenuCode=004")
	if err != nil {
		span.SetStatus(codes.Error, "timetable fetch failed")
		return err
	}
	gridTable := doc.Find("body > table:nth-of-type(4) table").First()
	if gridTable.Length() == 0 {
		return nil
	}
	rows := htmlutil.DirectRows(gridTable)
	if rows.Length() < 8 {
		return structureErr("class table", "timetable rows")
	}
	for i := 0; i < 7; i++ {
		cells := htmlutil.DirectCells(rows.Eq(i + 1))
		if cells.Length() < 6 {
			return structureErr("class table", fmt.Sprintf("period row %d", i))
		}
		for j := 0; j < 5; j++ {
			content := c.cellContent(cells.Eq(j + 1))
			if content == nil {
				table[i][j] = ClassTableCell{}
				continue
			}
			anchor := content.Find("a").First()
			if anchor.Length() == 0 {
				table[i][j] = ClassTableCell{}
				continue
			}
			onclick, _ := anchor.Attr("onclick")
			kamokuCode := textutil.JsArg(onclick, 1)
			classCode := textutil.JsArg(onclick, 2)
			if table[i][j].KamokuCode == kamokuCode && table[i][j].ClassCode == classCode {
				continue
			}
			cell, err := c.GetClassTableCell(ctx, kamokuCode, classCode)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "cell detail failed")
				return err
			}
			cell.ClassRoom = roomAfterLastBreak(content)
			table[i][j] = cell
		}
	}
	return nil
}

// cellContent finds the node holding a slot's class info. Full-term
// cells keep it in the second row of the cell table; half-term cells
// split the cell into separate tables per half, and only the half
// matching the current semester counts.
func (c *Client) cellContent(cell *goquery.Selection) *goquery.Selection {
	tables := cell.ChildrenFiltered("table")
	if tables.Length() == 0 {
		return nil
	}
	content := htmlutil.DirectRows(tables.Eq(0)).Eq(1).ChildrenFiltered("td").First()
	if content.Length() > 0 && content.Find("a").Length() > 0 {
		if half := content.Find("font.halfTime").First(); half.Length() > 0 {
			if strings.TrimSpace(half.Text()) != halfTermLabels[c.semesterCode] {
				return nil
			}
		}
		return content
	}
	if c.semesterCode == 0 || c.semesterCode == 2 {
		content = htmlutil.DirectRows(tables.Eq(0)).Eq(0).ChildrenFiltered("td").First()
	} else if tables.Length() > 1 {
		content = htmlutil.DirectRows(tables.Eq(1)).Eq(2).ChildrenFiltered("td").First()
	} else {
		return nil
	}
	if content.Length() == 0 {
		return nil
	}
	return content
}

// roomAfterLastBreak pulls the classroom, which is the trailing text
// after the last line break of a timetable cell.
func roomAfterLastBreak(content *goquery.Selection) string {
	raw, err := content.Html()
	if err != nil {
		return ""
	}
	idx := strings.LastIndex(raw, "<br")
	if idx < 0 {
		return ""
	}
	rest := raw[idx:]
	if gt := strings.Index(rest, ">"); gt >= 0 {
		rest = rest[gt+1:]
	}
	return textutil.CollapseSpace(stripTags(rest))
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// labeledValue reads the cell to the right of a label cell on the
// course detail screen.
func labeledValue(doc *goquery.Document, label string) string {
	cell := doc.Find("td").FilterFunction(func(_ int, td *goquery.Selection) bool {
		return strings.Contains(td.Text(), label)
	}).First()
	return textutil.CollapseSpace(cell.NextAllFiltered("td").First().Text())
}

var (
	syllabusSubjectId = regexp.MustCompile(`subjectID=(\d*)`)
	syllabusFormatCd  = regexp.MustCompile(`formatCD=(\d*)`)
)

// GetClassTableCell fetches the course detail screen for one slot and
// its syllabus.
func (c *Client) GetClassTableCell(ctx context.Context, kamokuCode, classCode string) (ClassTableCell, error) {
	ctx, span := tracer.Start(ctx, "client:GetClassTableCell")
	defer span.End()

	doc, err := c.getPage(ctx, fmt.Sprintf(
		"/kyoumu/detailKamoku.do?detailKamokuCode=%s&detailClassCode=%s&gamen=jikanwari",
		kamokuCode, classCode,
	))
	if err != nil {
		span.SetStatus(codes.Error, "course detail fetch failed")
		return ClassTableCell{}, err
	}
	cell := ClassTableCell{
		SubjectsName:     labeledValue(doc, "科目名"),
		SubjectsId:       labeledValue(doc, "科目番号"),
		ClassName:        labeledValue(doc, "クラス名"),
		TeacherName:      labeledValue(doc, "担当教員"),
		SubjectsSection:  labeledValue(doc, "科目区分"),
		SelectionSection: labeledValue(doc, "必修選択区分"),
		Credit:           atoiOr0(strings.ReplaceAll(labeledValue(doc, "単位数"), "単位", "")),
		KamokuCode:       kamokuCode,
		ClassCode:        classCode,
	}

	syllabus, err := c.getSyllabus(ctx, cell.SubjectsId, cell.ClassCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "syllabus fetch failed")
		return ClassTableCell{}, err
	}
	cell.Syllabus = syllabus
	return cell, nil
}

// getSyllabus fetches a course syllabus. The search endpoint either
// returns the syllabus directly or a redirect stub whose onclick
// carries the real document's identifiers.
func (c *Client) getSyllabus(ctx context.Context, subjectCd, classCd string) (Syllabus, error) {
	doc, err := c.getPage(ctx, fmt.Sprintf(
		"/syllabus2/rishuuSyllabusSearch.do?schoolYear=%d&subjectCD=%s&classCD=%s",
		c.schoolYear, subjectCd, classCd,
	))
	if err != nil {
		return Syllabus{}, err
	}
	marker := doc.Find("td").FilterFunction(func(_ int, td *goquery.Selection) bool {
		return strings.Contains(td.Text(), "シラバスの詳細は以下となります。")
	})
	if marker.Length() == 0 {
		stub := doc.Find("td").FilterFunction(func(_ int, td *goquery.Selection) bool {
			onclick, _ := td.Attr("onclick")
			return strings.Contains(onclick, "dbLinkClick")
		}).First()
		onclick, _ := stub.Attr("onclick")
		subjectMatch := syllabusSubjectId.FindStringSubmatch(onclick)
		formatMatch := syllabusFormatCd.FindStringSubmatch(onclick)
		if subjectMatch == nil || formatMatch == nil {
			return Syllabus{}, structureErr("syllabus", "redirect stub")
		}
		doc, err = c.getPage(ctx, fmt.Sprintf(
			"/syllabus2/rishuuSyllabusDetailEdit.do?subjectID=%s&formatCD=%s&rowIndex=0&jikanwariSchoolYear=%d",
			subjectMatch[1], formatMatch[1], c.schoolYear,
		))
		if err != nil {
			return Syllabus{}, err
		}
	}
	return extractSyllabus(doc), nil
}

// syllabusValue reads the cell following a labeled heading. Long-form
// sections keep their markup and are converted to markdown; the rest
// collapse to plain text.
func syllabusValue(doc *goquery.Document, key string, convert bool) string {
	heading := doc.Find("font").FilterFunction(func(_ int, font *goquery.Selection) bool {
		return strings.Contains(font.Text(), key)
	}).First()
	if heading.Length() == 0 {
		return ""
	}
	value := heading.Parent().NextAllFiltered("td").First()
	if value.Length() == 0 {
		return ""
	}
	if convert {
		raw, err := value.Html()
		if err != nil {
			return ""
		}
		return mdconv.Convert(raw)
	}
	return strings.Trim(textutil.CollapseSpace(value.Text()), "　 ")
}

func extractSyllabus(doc *goquery.Document) Syllabus {
	return Syllabus{
		SubjectsName:         syllabusValue(doc, "授業科目名", false),
		TeacherName:          syllabusValue(doc, "担当教員名", false),
		Affiliation:          syllabusValue(doc, "所属等", false),
		ResearchRoom:         syllabusValue(doc, "研究室", false),
		SharingTeacherName:   syllabusValue(doc, "分担教員名", false),
		ClassName:            syllabusValue(doc, "クラス", false),
		SemesterName:         syllabusValue(doc, "学期", false),
		SelectionSection:     syllabusValue(doc, "必修選択区分", false),
		TargetGrade:          syllabusValue(doc, "対象学年", false),
		Credit:               syllabusValue(doc, "単位数", false),
		WeekdayPeriod:        syllabusValue(doc, "曜日・時限", false),
		ClassRoom:            syllabusValue(doc, "教室", false),
		Keyword:              syllabusValue(doc, "キーワード", false),
		ClassTarget:          syllabusValue(doc, "授業の目標", true),
		LearningDetail:       syllabusValue(doc, "学習内容", true),
		ClassPlan:            syllabusValue(doc, "授業計画", true),
		Textbook:             syllabusValue(doc, "テキスト", false),
		ReferenceBook:        syllabusValue(doc, "参考書", false),
		PreparationReview:    syllabusValue(doc, "予習・復習について", false),
		EvaluationMethod:     syllabusValue(doc, "成績評価の方法･基準", false),
		OfficeHour:           syllabusValue(doc, "オフィスアワー", false),
		Message:              syllabusValue(doc, "担当教員からのメッセージ", false),
		ActiveLearning:       syllabusValue(doc, "アクティブ・ラーニング", false),
		TeacherExperience:    syllabusValue(doc, "実務経験のある教員の有無", false),
		TeacherCareerDetail:  syllabusValue(doc, "実務経験のある教員の経歴と授業内容", false),
		TeachingSection:      syllabusValue(doc, "教職科目区分", false),
		RelatedSubjects:      syllabusValue(doc, "関連授業科目", false),
		Other:                syllabusValue(doc, "その他", false),
		HomeClassStyle:       syllabusValue(doc, "在宅授業形態", false),
		HomeClassStyleDetail: syllabusValue(doc, "在宅授業形態（詳細）", false),
	}
}
