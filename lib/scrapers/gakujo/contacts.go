package gakujo

import (
	"context"
	"fmt"
	"strings"

	"gakujo-backend/lib/htmlutil"
	"gakujo-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

func (c *Client) contactSearchBody(reportDateStart string) string {
	return c.withToken(fmt.Sprintf(
		"teacherCode=&schoolYear=%d&semesterCode=%d&subjectDispCode=&searchKeyWord=&checkSearchKeywordTeacherUserName=on&checkSearchKeywordSubjectName=on&checkSearchKeywordTitle=on&contactKindCode=&targetDateStart=&targetDateEnd=&reportDateStart=%s&reportDateEnd=&requireResponse=&studentCode=&studentName=&tbl_A01_01_length=-1&_screenIdentifier=SC_A01_01&_screenInfoDisp=&_scrollTop=0",
		c.schoolYear, c.TermNumber(), reportDateStart,
	))
}

// GetClassContacts fetches the term's announcement listing, newest
// first as the portal renders it.
func (c *Client) GetClassContacts(ctx context.Context) ([]ClassContact, error) {
	ctx, span := tracer.Start(ctx, "client:GetClassContacts")
	defer span.End()

	err := c.generalPurpose(ctx, "授業サポート", "A01", "/classcontact/classContactList/initialize")
	if err != nil {
		span.SetStatus(codes.Error, "menu dispatch failed")
		return nil, err
	}
	doc, err := c.postForm(ctx, "/portal/classcontact/classContactList/selectClassContactList",
		c.contactSearchBody(c.reportDateStart().Format("2006/01/02")), true)
	if err != nil {
		span.SetStatus(codes.Error, "contact search failed")
		return nil, err
	}
	contacts, err := extractClassContacts(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contact parse failed")
		return nil, err
	}
	return contacts, nil
}

func extractClassContacts(doc *goquery.Document) ([]ClassContact, error) {
	table := doc.Find("#tbl_A01_01")
	if table.Length() == 0 {
		return nil, nil
	}
	var contacts []ClassContact
	var parseErr error
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		if parseErr != nil {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 7 {
			parseErr = structureErr("contacts", fmt.Sprintf("row %d", i))
			return
		}
		contact := ClassContact{
			Subjects:    textutil.CollapseSpace(cells.Eq(1).Text()),
			TeacherName: textutil.CollapseSpace(cells.Eq(2).Text()),
			Title:       textutil.CollapseSpace(cells.Eq(3).Find("a").First().Text()),
		}
		if target := textutil.CollapseSpace(cells.Eq(5).Text()); target != "" {
			contact.TargetDate, parseErr = textutil.ParseDateTime(target)
			if parseErr != nil {
				return
			}
		}
		contact.ContactDate, parseErr = textutil.ParseDateTime(textutil.CollapseSpace(cells.Eq(6).Text()))
		if parseErr != nil {
			return
		}
		contacts = append(contacts, contact)
	})
	return contacts, parseErr
}

// FetchContactDetail loads the detail pane of the contact at the
// given list index and resolves its attachments.
func (c *Client) FetchContactDetail(ctx context.Context, index int, contact *ClassContact) error {
	ctx, span := tracer.Start(ctx, "client:FetchContactDetail")
	defer span.End()

	doc, err := c.postForm(ctx,
		fmt.Sprintf("/portal/classcontact/classContactList/goDetail/%d", index),
		c.contactSearchBody(fmt.Sprintf("%d/01/01", c.schoolYear)), true)
	if err != nil {
		span.SetStatus(codes.Error, "detail fetch failed")
		return err
	}
	files, err := extractContactDetail(doc, contact)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail parse failed")
		return err
	}
	for _, file := range files {
		path, err := c.downloadUploadedFile(ctx, file.prefix, file.no, file.name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attachment download failed")
			return err
		}
		contact.Files = append(contact.Files, path)
	}
	return nil
}

const contactDetailTable = "body > div:nth-of-type(2) > div:first-of-type > div > form > div:nth-of-type(3) > div > div > table"

// extractContactDetail fills the detail fields of a contact. Room
// change and cancellation notices insert extra rows above the content
// row; their values are folded into the content text so nothing is
// lost in the flat record.
func extractContactDetail(doc *goquery.Document, contact *ClassContact) ([]uploadedFileRef, error) {
	rows := doc.Find(contactDetailTable).First().Find("tr")
	if rows.Length() == 0 {
		return nil, structureErr("contact detail", "description table")
	}
	cell := func(i int) *goquery.Selection { return rows.Eq(i).Find("td").First() }

	contact.ContactType = textutil.CollapseSpace(cell(0).Text())
	offset := 0
	switch contact.ContactType {
	case "講義室変更":
		offset = 2
	case "休講":
		offset = 1
	}
	if rows.Length() < 9+offset {
		return nil, structureErr("contact detail", "description table")
	}

	contentCell := cell(2 + offset)
	contentHtml, err := contentCell.Html()
	if err != nil {
		return nil, err
	}
	content := stripTags(textutil.DecodeNewlines(contentHtml))
	if links := htmlutil.EmbeddedLinks(contentCell); links != "" {
		content += "\n\n埋込リンク" + links
	}
	switch contact.ContactType {
	case "講義室変更":
		content += fmt.Sprintf("\n\n講義室変更日 %s", textutil.CollapseSpace(cell(1).Text()))
		content += fmt.Sprintf("\n変更後講義室 %s", textutil.CollapseSpace(cell(2).Text()))
	case "休講":
		content += fmt.Sprintf("\n\n休講日 %s", textutil.CollapseSpace(cell(1).Text()))
	}
	contact.Content = content

	contact.FileRelease = textutil.CollapseSpace(cell(4 + offset).Text())
	contact.ReferenceUrl = textutil.CollapseSpace(cell(5 + offset).Text())
	contact.Severity = textutil.CollapseSpace(cell(6 + offset).Text())
	contact.WebReply = textutil.CollapseSpace(cell(8 + offset).Text())

	return extractUploadedFileRefs(rows.Eq(3 + offset).Find("td div div")), nil
}

// extractUploadedFileRefs parses fileDownLoad onclick handlers into
// attachment handles.
func extractUploadedFileRefs(sel *goquery.Selection) []uploadedFileRef {
	var refs []uploadedFileRef
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		onclick, ok := a.Attr("onclick")
		if !ok {
			return
		}
		refs = append(refs, uploadedFileRef{
			prefix: strings.TrimPrefix(textutil.JsArg(onclick, 0), "fileDownLoad"),
			no:     textutil.JsArg(onclick, 1),
			name:   textutil.CollapseSpace(a.Text()),
		})
	})
	return refs
}
