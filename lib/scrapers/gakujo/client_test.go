package gakujo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gakujo-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, semesterCode int) *Client {
	client, err := NewClient(&Account{}, ClientOptions{
		SchoolYear:   2026,
		SemesterCode: semesterCode,
		DownloadDir:  t.TempDir(),
	})
	require.NoError(t, err)
	return client
}

func TestMaintenanceWindow(t *testing.T) {
	at := func(hour, min int) time.Time {
		return time.Date(2026, 4, 10, hour, min, 0, 0, timezone.Location)
	}
	require.False(t, inMaintenanceWindow(at(2, 59)))
	require.True(t, inMaintenanceWindow(at(3, 0)))
	require.True(t, inMaintenanceWindow(at(4, 59)))
	require.False(t, inMaintenanceWindow(at(5, 0)))

	// boundaries are JST hours regardless of the value's own zone
	utc := time.Date(2026, 4, 9, 19, 30, 0, 0, time.UTC) // 04:30 JST
	require.True(t, inMaintenanceWindow(utc))
}

func TestCaptureToken(t *testing.T) {
	client := testClient(t, 0)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		"<html><body><form>" +
			"<input type=\"hidden\" name=\"org.apache.struts.taglib.html.TOKEN\" value=\"f3a9c1d2e4b5\">" +
			"</form></body></html>"))
	require.NoError(t, err)
	require.NoError(t, client.captureToken(doc, true))
	require.Equal(t, "f3a9c1d2e4b5", client.token)

	bare, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body></body></html>"))
	require.NoError(t, err)

	// an optional miss keeps the current token
	require.NoError(t, client.captureToken(bare, false))
	require.Equal(t, "f3a9c1d2e4b5", client.token)

	require.ErrorIs(t, client.captureToken(bare, true), ErrTokenNotFound)
}

func TestWithToken(t *testing.T) {
	client := testClient(t, 0)
	client.token = "abc123"

	require.Equal(t, "org.apache.struts.taglib.html.TOKEN=abc123", client.withToken(""))
	require.Equal(t,
		"org.apache.struts.taglib.html.TOKEN=abc123&headTitle=x",
		client.withToken("headTitle=x"))
}

func TestTermNumber(t *testing.T) {
	require.Equal(t, 1, testClient(t, 0).TermNumber())
	require.Equal(t, 1, testClient(t, 1).TermNumber())
	require.Equal(t, 2, testClient(t, 2).TermNumber())
	require.Equal(t, 2, testClient(t, 3).TermNumber())
}

func TestSessionExpiredBounce(t *testing.T) {
	loginEntry := "<html><body>" +
		"<form action=\"/portal/login/preLogin/preLogin\" method=\"post\">" +
		"<input type=\"hidden\" name=\"mistakeChecker\" value=\"0\">" +
		"<input type=\"submit\" value=\"ログイン\">" +
		"</form></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(loginEntry))
	}))
	defer srv.Close()

	client := testClient(t, 0)
	client.Http.SetBaseURL(srv.URL)
	client.Account.LoggedInAt = timezone.Now()

	_, err := client.GetNews(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)

	// the stamp is dropped so the next caller re-authenticates instead
	// of trusting the server-side-dead session for its remaining window
	require.True(t, client.Account.LoggedInAt.IsZero())
}

func TestSessionExpiredSignatures(t *testing.T) {
	parse := func(page string) *goquery.Document {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
		require.NoError(t, err)
		return doc
	}
	// the identity provider's credential form is the other shape an
	// expired bounce can take
	require.True(t, sessionExpired(parse(
		"<html><body><form><input name=\"j_username\"><input name=\"j_password\"></form></body></html>")))
	require.False(t, sessionExpired(parse(
		"<html><body><table><tr><td>授業一覧</td></tr></table></body></html>")))
}

func TestReportDateRange(t *testing.T) {
	first := testClient(t, 0)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, timezone.Location), first.reportDateStart())
	require.Equal(t, time.Date(2026, 9, 30, 0, 0, 0, 0, timezone.Location), first.reportDateEnd())

	second := testClient(t, 2)
	require.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, timezone.Location), second.reportDateStart())
	require.Equal(t, time.Date(2027, 3, 31, 0, 0, 0, 0, timezone.Location), second.reportDateEnd())
}
