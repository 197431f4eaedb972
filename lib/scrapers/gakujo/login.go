package gakujo

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractSamlAssertion reads the relay form the identity provider
// returns after a successful credential post. The browser would
// auto-submit it; here the two hidden fields are pulled out and
// posted manually.
func extractSamlAssertion(doc *goquery.Document) (relayState, samlResponse string, err error) {
	relayState, ok := doc.Find("input[name='RelayState']").First().Attr("value")
	if !ok {
		return "", "", structureErr("saml-relay", "RelayState")
	}
	samlResponse, ok = doc.Find("input[name='SAMLResponse']").First().Attr("value")
	if !ok {
		return "", "", structureErr("saml-relay", "SAMLResponse")
	}
	return relayState, samlResponse, nil
}

// extractStudentName scrapes the display name from the portal home
// header and strips the honorific suffix.
func extractStudentName(doc *goquery.Document) (string, error) {
	sel := doc.Find("body > div:first-of-type > div > div > div > ul:nth-of-type(2) > li > a > span > span").First()
	if sel.Length() == 0 {
		return "", structureErr("home", "student name")
	}
	name := []rune(strings.TrimSpace(sel.Text()))
	if len(name) <= 2 {
		return "", structureErr("home", "student name")
	}
	return string(name[:len(name)-2]), nil
}

var academicMenuCodes = map[string]func(*AcademicFlags){
	"mainMenuCode=019&parentMenuCode=001": func(f *AcademicFlags) { f.LotteryOpen = true },
	"mainMenuCode=020&parentMenuCode=001": func(f *AcademicFlags) { f.LotteryResultOpen = true },
	"mainMenuCode=002&parentMenuCode=001": func(f *AcademicFlags) { f.RegistrationOpen = true },
	"mainMenuCode=008&parentMenuCode=007": func(f *AcademicFlags) { f.GradesAvailable = true },
}

// extractAcademicFlags presence-tests the subsystem menu links. Each
// registration feature only has a link while its cycle is open.
func extractAcademicFlags(doc *goquery.Document) AcademicFlags {
	var flags AcademicFlags
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		onclick, _ := a.Attr("onclick")
		href, _ := a.Attr("href")
		for code, set := range academicMenuCodes {
			if strings.Contains(onclick, code) || strings.Contains(href, code) {
				set(&flags)
			}
		}
	})
	return flags
}
