package gakujo

import (
	"context"
	"fmt"
	"strings"

	"gakujo-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// temporaryFileRef is an attachment handle scraped from a report or
// quiz detail pane, resolvable through temporaryFileDownload.
type temporaryFileRef struct {
	selectedKey string
	prefix      string
	name        string
}

// uploadedFileRef is an attachment handle from a contact or shared
// file pane, resolvable through the fileUploadDownload endpoint.
type uploadedFileRef struct {
	prefix string
	no     string
	name   string
}

func (c *Client) classSupportSearchBody(screenId, idField, id, listSchoolYear, listSubjectCode, listClassCode string) string {
	return c.withToken(fmt.Sprintf(
		"%s=%s&hidSchoolYear=&hidSemesterCode=&hidSubjectCode=&hidClassCode=&entranceDiv=&backPath=&listSchoolYear=%s&listSubjectCode=%s&listClassCode=%s&schoolYear=%d&semesterCode=%d&subjectDispCode=&operationFormat=1&operationFormat=2&searchList_length=-1&_screenIdentifier=%s&_screenInfoDisp=&_scrollTop=0",
		idField, id, listSchoolYear, listSubjectCode, listClassCode,
		c.schoolYear, c.TermNumber(), screenId,
	))
}

// GetReports fetches the term's report listing. The detail pane of
// each report is a separate screen and is fetched lazily through
// FetchReportDetail.
func (c *Client) GetReports(ctx context.Context) ([]Report, error) {
	ctx, span := tracer.Start(ctx, "client:GetReports")
	defer span.End()

	err := c.generalPurpose(ctx, "授業サポート", "A02", "/report/student/searchList/initialize")
	if err != nil {
		span.SetStatus(codes.Error, "menu dispatch failed")
		return nil, err
	}
	doc, err := c.postForm(ctx, "/portal/report/student/searchList/search",
		c.classSupportSearchBody("SC_A02_01_G", "reportId", "", "", "", ""), true)
	if err != nil {
		span.SetStatus(codes.Error, "report search failed")
		return nil, err
	}
	reports, err := extractReports(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report parse failed")
		return nil, err
	}
	return reports, nil
}

// extractReports parses the report search table. A missing table is
// the portal's empty state, not a structure failure.
func extractReports(doc *goquery.Document) ([]Report, error) {
	table := doc.Find("#searchList")
	if table.Length() == 0 {
		return nil, nil
	}
	var reports []Report
	var parseErr error
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		if parseErr != nil {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 7 {
			parseErr = structureErr("reports", fmt.Sprintf("row %d", i))
			return
		}
		anchor := cells.Eq(1).Find("a").First()
		onclick, _ := anchor.Attr("onclick")
		report := Report{
			Subjects:    textutil.CollapseSpace(cells.Eq(0).Text()),
			Title:       textutil.CollapseSpace(anchor.Text()),
			Id:          textutil.JsArg(onclick, 1),
			SchoolYear:  textutil.JsArg(onclick, 3),
			SubjectCode: textutil.JsArg(onclick, 4),
			ClassCode:   textutil.JsArg(onclick, 5),
			Status:      textutil.CollapseSpace(cells.Eq(2).Text()),
			Format:      textutil.CollapseSpace(cells.Eq(5).Text()),
			Operation:   textutil.CollapseSpace(cells.Eq(6).Text()),
		}
		span := textutil.CollapseSpace(cells.Eq(3).Text())
		report.Start, parseErr = textutil.ParseTimeSpan(span, 0)
		if parseErr != nil {
			return
		}
		report.End, parseErr = textutil.ParseTimeSpan(span, 1)
		if parseErr != nil {
			return
		}
		if submitted := textutil.CollapseSpace(cells.Eq(4).Text()); submitted != "" {
			report.Submitted, parseErr = textutil.ParseDateTime(submitted)
			if parseErr != nil {
				return
			}
		}
		reports = append(reports, report)
	})
	return reports, parseErr
}

// FetchReportDetail loads the long-form pane of one report and
// resolves its attachments into the download directory.
func (c *Client) FetchReportDetail(ctx context.Context, report *Report) error {
	ctx, span := tracer.Start(ctx, "client:FetchReportDetail")
	defer span.End()

	doc, err := c.postForm(ctx, "/portal/report/student/searchList/forwardSubmitRef",
		c.classSupportSearchBody("SC_A02_01_G", "reportId", report.Id, report.SchoolYear, report.SubjectCode, report.ClassCode), true)
	if err != nil {
		span.SetStatus(codes.Error, "detail fetch failed")
		return err
	}
	files, err := extractReportDetail(doc, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail parse failed")
		return err
	}
	for _, file := range files {
		path, err := c.downloadTemporaryFile(ctx, file.selectedKey, file.prefix, file.name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attachment download failed")
			return err
		}
		report.Files = append(report.Files, path)
	}
	return nil
}

const reportDetailTable = "body > div:nth-of-type(2) > div:first-of-type > div > form > div:nth-of-type(3) > div > div > div > table"

// extractReportDetail fills the detail fields in place and returns
// the attachment handles for the caller to resolve.
func extractReportDetail(doc *goquery.Document, report *Report) ([]temporaryFileRef, error) {
	rows := doc.Find(reportDetailTable).First().Find("tr")
	if rows.Length() < 6 {
		return nil, structureErr("report detail", "description table")
	}
	report.EvaluationMethod = textutil.CollapseSpace(rows.Eq(2).Find("td").First().Text())
	descriptionHtml, err := rows.Eq(3).Find("td").First().Html()
	if err != nil {
		return nil, err
	}
	report.Description = textutil.DecodeNewlines(descriptionHtml)
	report.Message = textutil.CollapseSpace(rows.Eq(5).Find("td").First().Text())
	return extractTemporaryFileRefs(rows.Eq(4)), nil
}

// extractTemporaryFileRefs parses the fileDownload onclick handlers
// in a detail row into attachment handles.
func extractTemporaryFileRefs(row *goquery.Selection) []temporaryFileRef {
	var refs []temporaryFileRef
	row.Find("a").Each(func(_ int, a *goquery.Selection) {
		onclick, ok := a.Attr("onclick")
		if !ok {
			return
		}
		refs = append(refs, temporaryFileRef{
			selectedKey: strings.TrimPrefix(textutil.JsArg(onclick, 0), "fileDownload"),
			prefix:      textutil.JsArg(onclick, 1),
			name:        textutil.CollapseSpace(a.Text()),
		})
	})
	return refs
}
