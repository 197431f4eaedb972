package gakujo

import (
	"context"
	"fmt"
	"strings"

	"gakujo-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

func (c *Client) sharedFileSearchBody(extra string) string {
	return c.withToken(fmt.Sprintf(
		"schoolYear=%d&semesterCode=%d&subjectDispCode=&searchKeyWord=&searchScopeTitle=title&lastUpdateDate=&tbl_classFile_length=-1%s&_screenIdentifier=SC_A08_01&_screenInfoDisp=&_scrollTop=0",
		c.schoolYear, c.TermNumber(), extra,
	))
}

// GetSharedFiles fetches the term's shared file listing.
func (c *Client) GetSharedFiles(ctx context.Context) ([]SharedFile, error) {
	ctx, span := tracer.Start(ctx, "client:GetSharedFiles")
	defer span.End()

	err := c.generalPurpose(ctx, "授業サポート", "A08", "/classfile/classFile/initialize")
	if err != nil {
		span.SetStatus(codes.Error, "menu dispatch failed")
		return nil, err
	}
	doc, err := c.postForm(ctx, "/portal/classfile/classFile/selectClassFileList",
		c.sharedFileSearchBody(""), true)
	if err != nil {
		span.SetStatus(codes.Error, "shared file search failed")
		return nil, err
	}
	files, err := extractSharedFiles(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared file parse failed")
		return nil, err
	}
	return files, nil
}

func extractSharedFiles(doc *goquery.Document) ([]SharedFile, error) {
	table := doc.Find("#tbl_classFile")
	if table.Length() == 0 {
		return nil, nil
	}
	var files []SharedFile
	var parseErr error
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		if parseErr != nil {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 5 {
			parseErr = structureErr("shared files", fmt.Sprintf("row %d", i))
			return
		}
		file := SharedFile{
			Subjects: textutil.CollapseSpace(cells.Eq(1).Text()),
			Title:    textutil.CollapseSpace(cells.Eq(2).Find("a").First().Text()),
			Size:     textutil.CollapseSpace(cells.Eq(3).Text()),
		}
		file.UpdateDate, parseErr = textutil.ParseDateTime(textutil.CollapseSpace(cells.Eq(4).Text()))
		if parseErr != nil {
			return
		}
		files = append(files, file)
	})
	return files, parseErr
}

// FetchSharedFileDetail loads the detail pane of the shared file at
// the given list index and resolves its attachments.
func (c *Client) FetchSharedFileDetail(ctx context.Context, index int, file *SharedFile) error {
	ctx, span := tracer.Start(ctx, "client:FetchSharedFileDetail")
	defer span.End()

	var indices strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&indices, "&linkDetailIndex=%d", i)
	}
	doc, err := c.postForm(ctx,
		fmt.Sprintf("/portal/classfile/classFile/showClassFileDetail/%d", index),
		c.sharedFileSearchBody(indices.String()), true)
	if err != nil {
		span.SetStatus(codes.Error, "detail fetch failed")
		return err
	}
	refs, err := extractSharedFileDetail(doc, file)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail parse failed")
		return err
	}
	for _, ref := range refs {
		path, err := c.downloadUploadedFile(ctx, ref.prefix, ref.no, ref.name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attachment download failed")
			return err
		}
		file.Files = append(file.Files, path)
	}
	return nil
}

const sharedFileDetailTable = "body > div:nth-of-type(2) > div:first-of-type > div > form > div:nth-of-type(3) > div > div > table"

func extractSharedFileDetail(doc *goquery.Document, file *SharedFile) ([]uploadedFileRef, error) {
	rows := doc.Find(sharedFileDetailTable).First().Find("tr")
	if rows.Length() < 4 {
		return nil, structureErr("shared file detail", "description table")
	}
	file.Description = textutil.CollapseSpace(rows.Eq(2).Find("td").First().Text())
	file.PublicPeriod = textutil.CollapseSpace(rows.Eq(3).Find("td").First().Text())
	return extractUploadedFileRefs(rows.Eq(1).Find("td div div")), nil
}
