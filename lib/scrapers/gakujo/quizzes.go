package gakujo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gakujo-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// GetQuizzes fetches the term's quiz listing. Quizzes share the
// class-support search machinery with reports but carry a submission
// status column instead of a submitted timestamp.
func (c *Client) GetQuizzes(ctx context.Context) ([]Quiz, error) {
	ctx, span := tracer.Start(ctx, "client:GetQuizzes")
	defer span.End()

	err := c.generalPurpose(ctx, "授業サポート", "A03", "/test/student/searchList/initialize")
	if err != nil {
		span.SetStatus(codes.Error, "menu dispatch failed")
		return nil, err
	}
	doc, err := c.postForm(ctx, "/portal/test/student/searchList/search",
		c.classSupportSearchBody("SC_A03_01_G", "testId", "", "", "", ""), true)
	if err != nil {
		span.SetStatus(codes.Error, "quiz search failed")
		return nil, err
	}
	quizzes, err := extractQuizzes(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quiz parse failed")
		return nil, err
	}
	return quizzes, nil
}

func extractQuizzes(doc *goquery.Document) ([]Quiz, error) {
	table := doc.Find("#searchList")
	if table.Length() == 0 {
		return nil, nil
	}
	var quizzes []Quiz
	var parseErr error
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		if parseErr != nil {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 7 {
			parseErr = structureErr("quizzes", fmt.Sprintf("row %d", i))
			return
		}
		anchor := cells.Eq(1).Find("a").First()
		onclick, _ := anchor.Attr("onclick")
		quiz := Quiz{
			Subjects:         textutil.CollapseSpace(cells.Eq(0).Text()),
			Title:            textutil.CollapseSpace(anchor.Text()),
			Id:               textutil.JsArg(onclick, 1),
			SchoolYear:       textutil.JsArg(onclick, 3),
			SubjectCode:      textutil.JsArg(onclick, 4),
			ClassCode:        textutil.JsArg(onclick, 5),
			Status:           textutil.CollapseSpace(cells.Eq(2).Text()),
			SubmissionStatus: textutil.CollapseSpace(cells.Eq(4).Text()),
			Format:           textutil.CollapseSpace(cells.Eq(5).Text()),
			Operation:        textutil.CollapseSpace(cells.Eq(6).Text()),
		}
		span := textutil.CollapseSpace(cells.Eq(3).Text())
		quiz.Start, parseErr = textutil.ParseTimeSpan(span, 0)
		if parseErr != nil {
			return
		}
		quiz.End, parseErr = textutil.ParseTimeSpan(span, 1)
		if parseErr != nil {
			return
		}
		quizzes = append(quizzes, quiz)
	})
	return quizzes, parseErr
}

// FetchQuizDetail loads the long-form pane of one quiz and resolves
// its attachments into the download directory.
func (c *Client) FetchQuizDetail(ctx context.Context, quiz *Quiz) error {
	ctx, span := tracer.Start(ctx, "client:FetchQuizDetail")
	defer span.End()

	doc, err := c.postForm(ctx, "/portal/test/student/searchList/forwardSubmitRef",
		c.classSupportSearchBody("SC_A03_01_G", "testId", quiz.Id, quiz.SchoolYear, quiz.SubjectCode, quiz.ClassCode), true)
	if err != nil {
		span.SetStatus(codes.Error, "detail fetch failed")
		return err
	}
	files, err := extractQuizDetail(doc, quiz)
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
		quiz.Files = append(quiz.Files, path)
	}
	return nil
}

// the quiz detail pane nests one div deeper than the report pane
const quizDetailTable = "body > div:nth-of-type(2) > div:first-of-type > div > form > div:nth-of-type(3) > div > div > div > div > table"

func extractQuizDetail(doc *goquery.Document, quiz *Quiz) ([]temporaryFileRef, error) {
	rows := doc.Find(quizDetailTable).First().Find("tr")
	if rows.Length() < 7 {
		return nil, structureErr("quiz detail", "description table")
	}
	count := strings.TrimSuffix(textutil.CollapseSpace(rows.Eq(2).Find("td").First().Text()), "問")
	n, err := strconv.Atoi(count)
	if err != nil {
		return nil, structureErr("quiz detail", "question count")
	}
	quiz.QuestionCount = n
	quiz.EvaluationMethod = textutil.CollapseSpace(rows.Eq(3).Find("td").First().Text())
	descriptionHtml, err := rows.Eq(4).Find("td").First().Html()
	if err != nil {
		return nil, err
	}
	quiz.Description = textutil.DecodeNewlines(descriptionHtml)
	quiz.Message = textutil.CollapseSpace(rows.Eq(6).Find("td").First().Text())
	return extractTemporaryFileRefs(rows.Eq(5)), nil
}
