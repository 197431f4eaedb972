package gakujo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gakujo-backend/lib/htmlutil"
	"gakujo-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// searchScope is the student's default faculty/department/course/grade
// selection, echoed back verbatim on every course search post.
type searchScope struct {
	faculty    string
	department string
	course     string
	grade      string
}

func extractSearchScope(doc *goquery.Document) (searchScope, error) {
	options := doc.Find("option[selected]")
	if options.Length() < 4 {
		return searchScope{}, structureErr("course search", "scope options")
	}
	value := func(i int) string {
		v, _ := options.Eq(i).Attr("value")
		return v
	}
	return searchScope{
		faculty:    value(0),
		department: value(1),
		course:     value(2),
		grade:      value(3),
	}, nil
}

const registrationGridPath = "/kyoumu/rishuuInit.do?mainMenuCode=002&parentMenuCode=001"

// registrationUnavailable detects the closed-window page, which keeps
// the overall layout but swaps the grid for a bold notice.
func registrationUnavailable(doc *goquery.Document) bool {
	if doc.Find("body > table:nth-of-type(3) font b").Length() > 0 {
		return true
	}
	return doc.Find("body > table:nth-of-type(4)").Length() == 0
}

// extractRegistrationGrid parses the entried class of every slot of
// the registration timetable.
func extractRegistrationGrid(doc *goquery.Document) (*RegistrationGrid, error) {
	gridTable := doc.Find("body > table:nth-of-type(4) table").First()
	rows := htmlutil.DirectRows(gridTable)
	if rows.Length() < 8 {
		return nil, structureErr("registration grid", "timetable rows")
	}
	grid := &RegistrationGrid{}
	for i := 0; i < 7; i++ {
		cells := htmlutil.DirectCells(rows.Eq(i + 1))
		if cells.Length() < 6 {
			return nil, structureErr("registration grid", fmt.Sprintf("period row %d", i))
		}
		for j := 0; j < 5; j++ {
			entried := EntriedClass{WeekdayPeriod: textutil.SlotLabel(j, i)}
			content := cells.Eq(j + 1).Find("table tr:nth-child(2) td").First()
			anchor := content.Find("a").First()
			if anchor.Length() > 0 {
				href, _ := anchor.Attr("href")
				entried.SubjectsName = textutil.CollapseSpace(anchor.Text())
				entried.KamokuCode = textutil.JsArg(href, 1)
				entried.ClassCode = textutil.JsArg(href, 2)
				entried.SelectionSection = textutil.CollapseSpace(content.Find("font").First().Text())
				texts := htmlutil.DirectTexts(content)
				if len(texts) > 0 {
					entried.TeacherName = textutil.CollapseSpace(texts[0])
				}
				if len(texts) > 1 {
					entried.Credit = atoiOr0(strings.ReplaceAll(textutil.CollapseSpace(texts[1]), "単位", ""))
				}
				if len(texts) > 2 {
					entried.ClassRoom = textutil.CollapseSpace(texts[2])
				}
			}
			grid[i][j].Entried = entried
		}
	}
	return grid, nil
}

// GetGeneralRegistrations builds the registration view of the
// timetable: the entried class per slot plus the registerable
// candidates of the student's own faculty attached to their slots.
// A nil grid with a nil error means the window is closed.
func (c *Client) GetGeneralRegistrations(ctx context.Context) (*RegistrationGrid, error) {
	ctx, span := tracer.Start(ctx, "client:GetGeneralRegistrations")
	defer span.End()

	doc, err := c.getPage(ctx, registrationGridPath)
	if err != nil {
		span.SetStatus(codes.Error, "registration page fetch failed")
		return nil, err
	}
	if registrationUnavailable(doc) {
		return nil, nil
	}
	grid, err := extractRegistrationGrid(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grid parse failed")
		return nil, err
	}

	searchDoc, err := c.getPage(ctx, "/kyoumu/searchKamokuNameInit.do")
	if err != nil {
		span.SetStatus(codes.Error, "course search init failed")
		return nil, err
	}
	scope, err := extractSearchScope(searchDoc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scope parse failed")
		return nil, err
	}
	resultDoc, err := c.postSearch(ctx, "/kyoumu/searchKamokuName.do", fmt.Sprintf(
		"faculty=%s&department=%s&course=%s&grade=%s&kamokuKbnCode=&req=&kamokuName=&button_kind.search.x=0&button_kind.search.y=0",
		scope.faculty, scope.department, scope.course, scope.grade,
	))
	if err != nil {
		span.SetStatus(codes.Error, "course search failed")
		return nil, err
	}
	for _, registration := range extractRegisterableRows(resultDoc) {
		if registration.WeekdayPeriod == "時間割外" {
			continue
		}
		period := textutil.PeriodIndex(registration.WeekdayPeriod)
		weekday := textutil.WeekdayIndex(registration.WeekdayPeriod)
		if period < 0 || weekday < 0 {
			continue
		}
		slot := &grid[period][weekday]
		slot.Registerable = append(slot.Registerable, registration)
	}
	return grid, nil
}

func (c *Client) postSearch(ctx context.Context, path, body string) (*goquery.Document, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, err
	}
	return c.parsePage(res)
}

// extractRegisterableRows parses a course search result table. The
// weekday and period columns merge into one cell (with a colspan) for
// irregular slots such as intensive courses.
func extractRegisterableRows(doc *goquery.Document) []GeneralRegistration {
	table := doc.Find("body > form > table:nth-of-type(4) table").First()
	if table.Length() == 0 {
		return nil
	}
	var registrations []GeneralRegistration
	htmlutil.DirectRows(table).Each(func(i int, row *goquery.Selection) {
		if i < 1 {
			return
		}
		cells := htmlutil.DirectCells(row)
		if cells.Length() < 6 {
			return
		}
		anchor := cells.Eq(0).Find("a").First()
		onclick, _ := anchor.Attr("onclick")
		radio, _ := anchor.Find("input").First().Attr("value")
		registration := GeneralRegistration{
			SubjectsName: textutil.CollapseSpace(cells.Eq(1).Text()),
			TeacherName:  textutil.CollapseSpace(cells.Eq(2).Text()),
			Credit:       atoiOr0(strings.ReplaceAll(textutil.CollapseSpace(cells.Eq(3).Text()), "単位", "")),
			KamokuCode:   strings.TrimPrefix(textutil.JsArg(onclick, 0), "javascript:checkKamoku"),
			ClassCode:    textutil.JsArg(onclick, 1),
			Unit:         textutil.JsArg(onclick, 2),
			SelectKamoku: textutil.JsArg(onclick, 3),
			Radio:        radio,
		}
		if _, merged := cells.Eq(4).Attr("colspan"); merged {
			registration.WeekdayPeriod = textutil.CollapseSpace(cells.Eq(4).Text())
			registration.ClassRoom = textutil.CollapseSpace(cells.Eq(5).Text())
		} else {
			if cells.Length() < 7 {
				return
			}
			registration.WeekdayPeriod = textutil.CollapseSpace(cells.Eq(4).Text()) +
				strings.ReplaceAll(textutil.CollapseSpace(cells.Eq(5).Text()), "限", "")
			registration.ClassRoom = textutil.CollapseSpace(cells.Eq(6).Text())
		}
		registrations = append(registrations, registration)
	})
	return registrations
}

// GetRegisterableGeneralRegistrations lists every class that can be
// registered into the given slot, across all faculties the slot
// search covers.
func (c *Client) GetRegisterableGeneralRegistrations(ctx context.Context, weekday, period int) ([]GeneralRegistration, error) {
	registrations, _, err := c.searchSlot(ctx, weekday, period)
	return registrations, err
}

// searchSlot runs the per-slot course search and returns the rows
// along with the scope values the registration post must echo.
func (c *Client) searchSlot(ctx context.Context, weekday, period int) ([]GeneralRegistration, searchScope, error) {
	ctx, span := tracer.Start(ctx, "client:searchSlot")
	defer span.End()

	// youbi and jigen are 1-based in the portal's query strings
	doc, err := c.getPage(ctx, fmt.Sprintf("/kyoumu/searchKamokuInit.do?youbi=%d&jigen=%d", weekday+1, period+1))
	if err != nil {
		span.SetStatus(codes.Error, "slot search init failed")
		return nil, searchScope{}, err
	}
	scope, err := extractSearchScope(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scope parse failed")
		return nil, searchScope{}, err
	}
	// the portal's own form misspells the department field on this
	// screen; the server expects the typo
	resultDoc, err := c.postSearch(ctx, "/kyoumu/searchKamoku.do", fmt.Sprintf(
		"faculty=%s&departmen=%s&course=%s&grade=%s&kamokuKbnCode=&req=&button_kind.search.x=0&button_kind.search.y=0",
		scope.faculty, scope.department, scope.course, scope.grade,
	))
	if err != nil {
		span.SetStatus(codes.Error, "slot search failed")
		return nil, searchScope{}, err
	}
	return extractRegisterableRows(resultDoc), scope, nil
}

// extractRegistrationConflict reads the error block of a registration
// response. A nil return means the registration was accepted.
func extractRegistrationConflict(doc *goquery.Document) error {
	if doc.Find("body > font:nth-of-type(1) b").Length() == 0 {
		return nil
	}
	message := textutil.CollapseSpace(doc.Find("body > font:nth-of-type(2) ul li").First().Text())
	kind := ConflictNone
	switch {
	case strings.Contains(message, "他の科目を取り消して、半期履修制限単位数以内で履修登録してください。"):
		kind = ConflictCreditLimit
	case strings.Contains(message, "を取り消してから、履修登録してください。"):
		kind = ConflictDuplicate
	case strings.Contains(message, "定員数を超えているため、登録できません。"):
		kind = ConflictCapacity
	}
	return &RegistrationConflictError{Kind: kind, Message: message}
}

// AttemptRegistration resolves an entry to exactly one candidate in
// its slot and posts the registration. Forward attempts match by
// subject and class name; restore attempts match the codes recorded
// before an overwrite, putting the previous class back.
func (c *Client) AttemptRegistration(ctx context.Context, entry RegistrationEntry, restore bool) error {
	ctx, span := tracer.Start(ctx, "client:AttemptRegistration")
	defer span.End()

	weekday := textutil.WeekdayIndex(entry.WeekdayPeriod)
	period := textutil.PeriodIndex(entry.WeekdayPeriod)
	if weekday < 0 || period < 0 {
		return fmt.Errorf("invalid slot %q", entry.WeekdayPeriod)
	}
	candidates, scope, err := c.searchSlot(ctx, weekday, period)
	if err != nil {
		return err
	}
	var matched []GeneralRegistration
	for _, candidate := range candidates {
		if restore {
			if candidate.KamokuCode == entry.EntriedKamokuCode && candidate.ClassCode == entry.EntriedClassCode {
				matched = append(matched, candidate)
			}
		} else if strings.Contains(candidate.SubjectsName, entry.SubjectsName) &&
			strings.Contains(candidate.SubjectsName, entry.ClassName) {
			matched = append(matched, candidate)
		}
	}
	if len(matched) != 1 {
		span.SetStatus(codes.Error, "no unique candidate")
		return fmt.Errorf("%d candidates for %s %s in %s, want exactly 1",
			len(matched), entry.SubjectsName, entry.ClassName, entry.WeekdayPeriod)
	}
	target := matched[0]

	doc, err := c.postSearch(ctx, "/kyoumu/searchKamoku.do", fmt.Sprintf(
		"faculty=%s&department=%s&course=%s&grade=%s&kamokuKbnCode=&req=&kamokuCode=%s&classCode=%s&unit=%s&radio=%s&selectKamoku=%s&button_kind.registKamoku.x=0&button_kind.registKamoku.y=0",
		scope.faculty, scope.department, scope.course, scope.grade,
		target.KamokuCode, target.ClassCode, target.Unit, target.Radio, target.SelectKamoku,
	))
	if err != nil {
		span.SetStatus(codes.Error, "registration post failed")
		return err
	}
	if err := extractRegistrationConflict(doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration rejected")
		return err
	}
	slog.InfoContext(ctx, "registered class",
		"subject", target.SubjectsName, "slot", entry.WeekdayPeriod, "restore", restore)
	return nil
}

// ClearRegistration removes whatever class occupies the given slot.
func (c *Client) ClearRegistration(ctx context.Context, weekday, period int) error {
	ctx, span := tracer.Start(ctx, "client:ClearRegistration")
	defer span.End()

	doc, err := c.getPage(ctx, registrationGridPath)
	if err != nil {
		span.SetStatus(codes.Error, "registration page fetch failed")
		return err
	}
	if registrationUnavailable(doc) {
		return errors.New("registration window is closed")
	}
	grid, err := extractRegistrationGrid(doc)
	if err != nil {
		span.RecordError(err)
		return err
	}
	entried := grid[period][weekday].Entried
	if entried.KamokuCode == "" {
		return fmt.Errorf("no class entried in %s", textutil.SlotLabel(weekday, period))
	}
	_, err = c.Http.R().SetContext(ctx).Get(fmt.Sprintf(
		"/kyoumu/removeKamokuInit.do?kamokuCode=%s&classCode=%s&youbi=%d&jigen=%d",
		entried.KamokuCode, entried.ClassCode, weekday+1, period+1,
	))
	if err != nil {
		span.SetStatus(codes.Error, "remove init failed")
		return err
	}
	_, err = c.Http.R().SetContext(ctx).Post("/kyoumu/removeKamoku.do")
	if err != nil {
		span.SetStatus(codes.Error, "remove post failed")
		return err
	}
	// refresh so the next grid read sees the cleared slot
	_, err = c.Http.R().SetContext(ctx).Get(registrationGridPath)
	return err
}

// SetGeneralRegistrations registers a batch of entries. With
// overwrite set, a duplicate-slot rejection clears the occupying
// class and retries; if the retry still fails the previous class is
// restored from the codes recorded up front, so a failed overwrite
// never leaves the slot empty.
func (c *Client) SetGeneralRegistrations(ctx context.Context, entries []RegistrationEntry, overwrite bool) error {
	ctx, span := tracer.Start(ctx, "client:SetGeneralRegistrations")
	defer span.End()

	doc, err := c.getPage(ctx, registrationGridPath)
	if err != nil {
		span.SetStatus(codes.Error, "registration page fetch failed")
		return err
	}
	if registrationUnavailable(doc) {
		return errors.New("registration window is closed")
	}
	grid, err := extractRegistrationGrid(doc)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for i := range entries {
		weekday := textutil.WeekdayIndex(entries[i].WeekdayPeriod)
		period := textutil.PeriodIndex(entries[i].WeekdayPeriod)
		if weekday < 0 || period < 0 {
			continue
		}
		entried := grid[period][weekday].Entried
		entries[i].EntriedKamokuCode = entried.KamokuCode
		entries[i].EntriedClassCode = entried.ClassCode
	}

	for _, entry := range entries {
		err := c.AttemptRegistration(ctx, entry, false)
		var conflict *RegistrationConflictError
		if !errors.As(err, &conflict) || conflict.Kind != ConflictDuplicate || !overwrite {
			if err != nil {
				slog.WarnContext(ctx, "registration skipped",
					"subject", entry.SubjectsName, "slot", entry.WeekdayPeriod, "error", err)
			}
			continue
		}
		weekday := textutil.WeekdayIndex(entry.WeekdayPeriod)
		period := textutil.PeriodIndex(entry.WeekdayPeriod)
		if err := c.ClearRegistration(ctx, weekday, period); err != nil {
			return err
		}
		if err := c.AttemptRegistration(ctx, entry, false); err != nil {
			slog.WarnContext(ctx, "overwrite failed, restoring previous class",
				"subject", entry.SubjectsName, "slot", entry.WeekdayPeriod, "error", err)
			if restoreErr := c.AttemptRegistration(ctx, entry, true); restoreErr != nil {
				return fmt.Errorf("restore after failed overwrite: %w", restoreErr)
			}
		}
	}
	return nil
}
