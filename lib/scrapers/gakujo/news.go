package gakujo

import (
	"context"
	"fmt"

	"gakujo-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// GetNews widens the home screen's announcement filter to the whole
// term and scrapes the resulting list. The filter change is a
// three-post dance through the token rotation.
func (c *Client) GetNews(ctx context.Context) ([]News, error) {
	ctx, span := tracer.Start(ctx, "client:GetNews")
	defer span.End()

	_, err := c.postForm(ctx, "/portal/home/home/initialize", "EXCLUDE_SET=", true)
	if err != nil {
		span.SetStatus(codes.Error, "home initialize failed")
		return nil, err
	}
	_, err = c.postForm(ctx, "/portal/home/changeNewsCondition/initialize", c.withToken(""), true)
	if err != nil {
		span.SetStatus(codes.Error, "news condition initialize failed")
		return nil, err
	}
	_, err = c.postForm(ctx, "/portal/home/changeNewsCondition/confirm", c.withToken(fmt.Sprintf(
		"contactDateFrom=%s&contactDateTo=%s&_screenIdentifier=SC_Z07_2&_screenInfoDisp=&_scrollTop=0",
		c.reportDateStart().Format("2006/01/02"),
		c.reportDateEnd().Format("2006/01/02"),
	)), true)
	if err != nil {
		span.SetStatus(codes.Error, "news condition confirm failed")
		return nil, err
	}
	doc, err := c.postForm(ctx, "/portal/home/home/changeNews",
		c.withToken("_screenIdentifier=home&_screenInfoDisp=&_scrollTop=0"), true)
	if err != nil {
		span.SetStatus(codes.Error, "news list fetch failed")
		return nil, err
	}

	news, err := extractNews(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "news parse failed")
		return nil, err
	}
	return news, nil
}

// extractNews reads the home announcement table. Category prefixes
// are stripped from every title except internal notices, whose
// bracket text is part of the title proper.
func extractNews(doc *goquery.Document) ([]News, error) {
	var news []News
	var parseErr error
	doc.Find("#tbl_news tbody tr").Each(func(i int, row *goquery.Selection) {
		if parseErr != nil {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 3 {
			parseErr = structureErr("news", fmt.Sprintf("row %d", i))
			return
		}
		date, err := textutil.ParseDateTime(textutil.CollapseSpace(cells.Eq(1).Text()))
		if err != nil {
			parseErr = err
			return
		}
		record := News{
			Index: i,
			Type:  textutil.CollapseSpace(cells.Eq(0).Text()),
			Date:  date,
		}
		title := textutil.CollapseSpace(cells.Eq(2).Text())
		if record.Type != "学内連絡" {
			title = textutil.StripNewsCategory(title)
		}
		record.Title = title
		news = append(news, record)
	})
	return news, parseErr
}
