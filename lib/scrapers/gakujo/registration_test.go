package gakujo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const scopeSelectsPage = `<html><body><form>
<select name="faculty"><option value="">--</option><option value="F01" selected>情報学部</option></select>
<select name="department"><option value="D01" selected>情報科学科</option></select>
<select name="course"><option value="C01" selected>情報科学コース</option></select>
<select name="grade"><option value="2" selected>2年</option></select>
</form></body></html>`

const slotSearchResultPage = `<html><body><form>
<table></table><table></table><table></table>
<table><tr><td>
<table border="1">
<tr><th>選択</th><th>科目名</th><th>担当教員</th><th>単位</th><th>曜日</th><th>時限</th><th>講義室</th></tr>
<tr>
<td><a onclick="javascript:checkKamoku('S2026015','C015','2','0');"><input type="radio" name="radio" value="R015"></a></td>
<td>解析学（Ａ）前期 月1･2</td>
<td>佐藤 花子</td>
<td>2単位</td>
<td>月</td>
<td>1･2限</td>
<td>共通棟302</td>
</tr>
<tr>
<td><a onclick="javascript:checkKamoku('S2026001','C001','2','0');"><input type="radio" name="radio" value="R001"></a></td>
<td>微分積分学（Ａ）前期 月1･2</td>
<td>山本 一郎</td>
<td>2単位</td>
<td>月</td>
<td>1･2限</td>
<td>共通棟301</td>
</tr>
</table>
</td></tr></table>
</form></body></html>`

const duplicateConflictPage = `<html><body>
<font color="#ff0000"><b>エラー</b></font>
<font color="#000000"><ul><li>「微分積分学（Ａ）」を取り消してから、履修登録してください。</li></ul></font>
</body></html>`

// registrationPortal serves the handful of screens the overwrite flow
// walks through. Registration posts for acceptCode succeed, every
// other class is rejected with a duplicate-slot error.
func registrationPortal(t *testing.T, acceptCode string) (*httptest.Server, *[]string, *[]url.Values) {
	grid, err := os.ReadFile(filepath.Join("testdata", "registration_grid.html"))
	require.NoError(t, err)

	sequence := &[]string{}
	registrations := &[]url.Values{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kyoumu/rishuuInit.do":
			w.Write(grid)
		case "/kyoumu/searchKamokuInit.do":
			w.Write([]byte(scopeSelectsPage))
		case "/kyoumu/removeKamokuInit.do":
			*sequence = append(*sequence, "removeInit")
			w.Write([]byte("<html><body></body></html>"))
		case "/kyoumu/removeKamoku.do":
			*sequence = append(*sequence, "remove")
			w.Write([]byte("<html><body></body></html>"))
		case "/kyoumu/searchKamoku.do":
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			form, err := url.ParseQuery(string(body))
			require.NoError(t, err)
			if !form.Has("button_kind.registKamoku.x") {
				w.Write([]byte(slotSearchResultPage))
				return
			}
			*sequence = append(*sequence, "regist "+form.Get("kamokuCode"))
			*registrations = append(*registrations, form)
			if form.Get("kamokuCode") == acceptCode {
				// the portal answers an accepted registration with the
				// refreshed timetable, no error block
				w.Write(grid)
				return
			}
			w.Write([]byte(duplicateConflictPage))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	return srv, sequence, registrations
}

func TestSetGeneralRegistrationsRestoresOnFailedOverwrite(t *testing.T) {
	srv, sequence, registrations := registrationPortal(t, "S2026001")
	defer srv.Close()

	client := testClient(t, 0)
	client.Http.SetBaseURL(srv.URL)

	entries := []RegistrationEntry{{
		WeekdayPeriod: "月1･2",
		SubjectsName:  "解析学",
		ClassName:     "Ａ",
	}}
	err := client.SetGeneralRegistrations(context.Background(), entries, true)
	require.NoError(t, err)

	// the occupant's codes are recorded before anything is posted
	require.Equal(t, "S2026001", entries[0].EntriedKamokuCode)
	require.Equal(t, "C001", entries[0].EntriedClassCode)

	// duplicate rejection, clear, failed retry, then the previous
	// class goes back in from the recorded codes
	require.Equal(t, []string{
		"regist S2026015",
		"removeInit",
		"remove",
		"regist S2026015",
		"regist S2026001",
	}, *sequence)

	restore := (*registrations)[len(*registrations)-1]
	require.Equal(t, "S2026001", restore.Get("kamokuCode"))
	require.Equal(t, "C001", restore.Get("classCode"))
	require.Equal(t, "R001", restore.Get("radio"))
}

func TestSetGeneralRegistrationsFailedRestoreIsAnError(t *testing.T) {
	// nothing is accepted, so even the restore post is rejected and the
	// batch must fail loudly instead of leaving the slot empty silently
	srv, sequence, _ := registrationPortal(t, "")
	defer srv.Close()

	client := testClient(t, 0)
	client.Http.SetBaseURL(srv.URL)

	entries := []RegistrationEntry{{
		WeekdayPeriod: "月1･2",
		SubjectsName:  "解析学",
		ClassName:     "Ａ",
	}}
	err := client.SetGeneralRegistrations(context.Background(), entries, true)
	require.ErrorContains(t, err, "restore after failed overwrite")
	require.Equal(t, "regist S2026001", (*sequence)[len(*sequence)-1])
}
