package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// DirectRows returns the immediate <tr> children of a table, not the
// rows of any table nested inside its cells.
func DirectRows(table *goquery.Selection) *goquery.Selection {
	rows := table.ChildrenFiltered("tbody").ChildrenFiltered("tr")
	if rows.Length() > 0 {
		return rows
	}
	return table.ChildrenFiltered("tr")
}

// DirectCells returns the immediate <td> children of a row.
func DirectCells(row *goquery.Selection) *goquery.Selection {
	return row.ChildrenFiltered("td")
}

// DirectTexts collects the non-empty direct text nodes of a node,
// skipping text inside child elements.
func DirectTexts(sel *goquery.Selection) []string {
	var texts []string
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		for _, n := range node.Nodes {
			if n.Type != html.TextNode {
				continue
			}
			text := strings.TrimSpace(innerWhitespace.ReplaceAllString(n.Data, " "))
			if text != "" {
				texts = append(texts, text)
			}
		}
	})
	return texts
}

type Anchor struct {
	Name string
	Href string
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// GetAnchors collects every <a> in the selection as a cleaned
// name/href pair. Anchors whose href does not survive url.Parse-level
// sanity (empty href is fine, it stays empty) are kept with the raw
// text so callers can still show the label.
func GetAnchors(sel *goquery.Selection) []Anchor {
	var anchors []Anchor
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		name := ""
		for _, n := range a.Nodes {
			name = GetText(n)
			break
		}
		name = removeNonPrintable(name)
		name = strings.Trim(name, " \t\n")
		name = innerWhitespace.ReplaceAllString(name, " ")

		anchors = append(anchors, Anchor{
			Name: name,
			Href: a.AttrOr("href", ""),
		})
	})
	return anchors
}

// EmbeddedLinks renders the anchors inside a content pane as
// "name href" lines, one per anchor. The portal strips <a> tags from
// the plain-text view of a class contact, so the links have to be
// re-surfaced explicitly or they are lost.
func EmbeddedLinks(sel *goquery.Selection) string {
	anchors := GetAnchors(sel)
	if len(anchors) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range anchors {
		b.WriteString("\n")
		b.WriteString(a.Name)
		b.WriteString(" ")
		b.WriteString(a.Href)
	}
	return b.String()
}
