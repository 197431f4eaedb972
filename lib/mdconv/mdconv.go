// Package mdconv renders portal HTML fragments (contact bodies, report
// descriptions) as markdown for notifier payloads.
package mdconv

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

var converter = md.NewConverter("", true, nil)

// Convert returns the markdown rendition of an HTML fragment. On
// conversion failure the raw text content is close enough for a
// notification, so the input is returned stripped of tags by the
// converter's fallback rather than erroring out.
func Convert(html string) string {
	out, err := converter.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(out)
}
