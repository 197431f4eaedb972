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

// atoiOr0 is for numeric cells the portal sometimes leaves blank or
// pads with annotations. A zero is always safe for these counters.
func atoiOr0(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// GetLotteryRegistrations scrapes the lottery candidate tables and
// the opaque timetable vector the submit request must echo back.
// An absent form means the lottery window is closed; callers get an
// empty result, not an error.
func (c *Client) GetLotteryRegistrations(ctx context.Context) ([]LotteryRegistration, string, error) {
	ctx, span := tracer.Start(ctx, "client:GetLotteryRegistrations")
	defer span.End()

	doc, err := c.getPage(ctx, "/kyoumu/chuusenRishuuInit.do?mainMenuCode=019&parentMenuCode=001")
	if err != nil {
		span.SetStatus(codes.Error, "lottery page fetch failed")
		return nil, "", err
	}
	registrations, vector := extractLotteryRegistrations(doc)
	return registrations, vector, nil
}

// extractLotteryRegistrations parses the candidate tables and the
// opaque timetable vector from the lottery page.
func extractLotteryRegistrations(doc *goquery.Document) ([]LotteryRegistration, string) {
	forms := doc.Find("body > form")
	if forms.Length() == 0 {
		return nil, ""
	}
	vector, _ := forms.First().Find("input").First().Attr("value")

	var registrations []LotteryRegistration
	forms.Each(func(_ int, form *goquery.Selection) {
		form.Find("table tr td table").First().Find("tr").Each(func(j int, row *goquery.Selection) {
			if j < 2 {
				return
			}
			cells := row.Find("td")
			if cells.Length() < 14 {
				return
			}
			input := cells.Eq(6).Find("input").First()
			_, disabled := input.Attr("disabled")
			choiceKey, _ := input.Attr("name")
			registration := LotteryRegistration{
				WeekdayPeriod:    textutil.CollapseSpace(cells.Eq(0).Text()),
				SubjectsName:     textutil.CollapseSpace(cells.Eq(1).Text()),
				ClassName:        textutil.CollapseSpace(cells.Eq(2).Text()),
				SubjectsSection:  textutil.CollapseSpace(cells.Eq(3).Text()),
				SelectionSection: textutil.CollapseSpace(cells.Eq(4).Text()),
				Credit:           atoiOr0(textutil.CollapseSpace(cells.Eq(5).Text())),
				IsRegisterable:   !disabled,
				ChoiceKey:        choiceKey,
				Capacity:         atoiOr0(textutil.CollapseSpace(cells.Eq(10).Text())),
				FirstApplicants:  atoiOr0(textutil.CollapseSpace(cells.Eq(11).Text())),
				SecondApplicants: atoiOr0(textutil.CollapseSpace(cells.Eq(12).Text())),
				ThirdApplicants:  atoiOr0(textutil.CollapseSpace(cells.Eq(13).Text())),
			}
			// the radio group spans the none/first/second/third cells
			for choice := 0; choice <= 3; choice++ {
				radio := cells.Eq(6 + choice).Find("input").First()
				if _, checked := radio.Attr("checked"); checked {
					registration.Choice = choice
					break
				}
			}
			registrations = append(registrations, registration)
		})
	})
	return registrations, vector
}

// SubmitLottery posts the choice state of every registerable row in
// a single request, then triggers the portal's confirmation mail to
// the student's registered address.
func (c *Client) SubmitLottery(ctx context.Context, registrations []LotteryRegistration, vector string) error {
	ctx, span := tracer.Start(ctx, "client:SubmitLottery")
	defer span.End()

	var choices strings.Builder
	for _, registration := range registrations {
		if registration.IsRegisterable {
			choices.WriteString(registration.ChoiceNumberFragment())
		}
	}
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(fmt.Sprintf("x=0&y=0&RishuuForm.jikanwariVector=%s%s", vector, choices.String())).
		Post("/kyoumu/chuusenRishuuRegist.do")
	if err != nil {
		span.SetStatus(codes.Error, "lottery submit failed")
		return err
	}
	doc, err := c.parsePage(res)
	if err != nil {
		return err
	}
	return c.sendLotteryMail(ctx, doc)
}

// sendLotteryMail walks the portal's mail confirmation flow so the
// student gets the same receipt a browser submission would produce.
func (c *Client) sendLotteryMail(ctx context.Context, doc *goquery.Document) error {
	href, _ := doc.Find("table:nth-of-type(2) tbody tr td:nth-of-type(3) a").First().Attr("href")
	semesterCode := textutil.JsArg(href, 1)

	mailDoc, err := c.getPage(ctx, "/kyoumu/sendChuusenRishuuMailInit.do?selectedSemesterCode="+semesterCode)
	if err != nil {
		return err
	}
	mailAddress := ""
	mailDoc.Find("input[name='mailAddress']").Each(func(_ int, input *goquery.Selection) {
		if _, checked := input.Attr("checked"); checked {
			mailAddress, _ = input.Attr("value")
		}
	})
	if mailAddress == "" {
		return structureErr("lottery mail", "mail address")
	}
	_, err = c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(fmt.Sprintf("mailAddress=%s&button_changePassword.changePassword.x=0&button_changePassword.changePassword.y=0", mailAddress)).
		Post("/kyoumu/sendChuusenRishuuMail.do")
	return err
}

// GetLotteryResults scrapes the published draw outcomes. As with the
// candidate tables, an absent form means the results are not out yet.
func (c *Client) GetLotteryResults(ctx context.Context) ([]LotteryResult, error) {
	ctx, span := tracer.Start(ctx, "client:GetLotteryResults")
	defer span.End()

	doc, err := c.getPage(ctx, "/kyoumu/chuusenRishuuInit.do?mainMenuCode=020&parentMenuCode=001")
	if err != nil {
		span.SetStatus(codes.Error, "lottery result fetch failed")
		return nil, err
	}
	return extractLotteryResults(doc), nil
}

func extractLotteryResults(doc *goquery.Document) []LotteryResult {
	forms := doc.Find("body > form")
	if forms.Length() == 0 {
		return nil
	}

	var results []LotteryResult
	forms.Each(func(_ int, form *goquery.Selection) {
		form.Find("table tr td table").First().Find("tr").Each(func(j int, row *goquery.Selection) {
			if j < 1 {
				return
			}
			cells := row.Find("td")
			if cells.Length() < 8 {
				return
			}
			choice := textutil.CollapseSpace(cells.Eq(6).Text())
			choice = strings.TrimSuffix(strings.TrimPrefix(choice, "第"), "希望")
			results = append(results, LotteryResult{
				WeekdayPeriod:    textutil.CollapseSpace(cells.Eq(0).Text()),
				SubjectsName:     textutil.CollapseSpace(cells.Eq(1).Text()),
				ClassName:        textutil.CollapseSpace(cells.Eq(2).Text()),
				SubjectsSection:  textutil.CollapseSpace(cells.Eq(3).Text()),
				SelectionSection: textutil.CollapseSpace(cells.Eq(4).Text()),
				Credit:           atoiOr0(textutil.CollapseSpace(cells.Eq(5).Text())),
				Choice:           atoiOr0(choice),
				IsWinning:        strings.Contains(cells.Eq(7).Text(), "当選"),
			})
		})
	})
	return results
}
