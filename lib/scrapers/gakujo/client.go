// Package gakujo drives the Gakujo student portal of Shizuoka
// University. The portal has no API: every operation is a chain of
// HTML form posts guarded by a rotating struts token, with login
// running through a separate Shibboleth identity provider. This
// package owns the HTTP session and the per-screen HTML extraction;
// diffing and persistence live in services/gakujo.
package gakujo

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gakujo-backend/lib/restyutil"
	"gakujo-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

const (
	BaseUrl = "https://gakujo.shizuoka.ac.jp"
	idpUrl  = "https://idp.shizuoka.ac.jp"

	// the portal rejects requests that don't look like a desktop
	// browser, so this literal is pinned and attached to everything
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

	connectivityProbeUrl = "http://clients3.google.com/generate_204"

	tokenField = "org.apache.struts.taglib.html.TOKEN"
)

type ClientOptions struct {
	SchoolYear   int
	SemesterCode int
	DownloadDir  string
}

// Client is the portal session: cookie jar, rotating struts token and
// the two federation hops. The token is a single mutable latest-value
// with no versioning, so a Client must never be shared between
// concurrent syncs.
type Client struct {
	Http    *resty.Client
	Account *Account

	schoolYear   int
	semesterCode int
	downloadDir  string
	token        string
}

func NewClient(account *Account, opts ClientOptions) (*Client, error) {
	client := resty.New()
	client.SetBaseURL(BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(
		"gakujo.shizuoka.ac.jp", "idp.shizuoka.ac.jp",
	))
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return &Client{
		Http:         client,
		Account:      account,
		schoolYear:   opts.SchoolYear,
		semesterCode: opts.SemesterCode,
		downloadDir:  opts.DownloadDir,
	}, nil
}

// TermNumber collapses the four half-term codes into the portal's
// two-semester numbering: 前期 halves are 1, 後期 halves are 2.
func (c *Client) TermNumber() int {
	if c.semesterCode < 2 {
		return 1
	}
	return 2
}

func (c *Client) SchoolYear() int {
	return c.schoolYear
}

func (c *Client) SemesterCode() int {
	return c.semesterCode
}

// reportDateStart bounds list searches to the current term.
func (c *Client) reportDateStart() time.Time {
	month := time.March
	if c.semesterCode >= 2 {
		month = time.September
	}
	return time.Date(c.schoolYear, month, 1, 0, 0, 0, 0, timezone.Location)
}

func (c *Client) reportDateEnd() time.Time {
	end := c.reportDateStart().AddDate(0, 6, 0)
	return time.Date(end.Year(), end.Month()+1, 0, 0, 0, 0, 0, timezone.Location)
}

// the portal goes down for maintenance between 03:00 and 05:00 JST
func inMaintenanceWindow(t time.Time) bool {
	hour := t.In(timezone.Location).Hour()
	return hour >= 3 && hour < 5
}

// Connect refuses to touch the portal during the nightly maintenance
// window, then verifies plain network reachability with a no-op
// probe. Both checks run before any portal request.
func (c *Client) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Connect")
	defer span.End()

	if inMaintenanceWindow(timezone.Now()) {
		span.SetStatus(codes.Error, ErrMaintenanceWindow.Error())
		return ErrMaintenanceWindow
	}

	_, err := c.Http.R().
		SetContext(ctx).
		Get(connectivityProbeUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrConnectivity.Error())
		return fmt.Errorf("%w: %s", ErrConnectivity, err)
	}
	return nil
}

func parseDocument(res *resty.Response) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
}

// the portal answers requests on a dead session with its login entry
// page instead of an error status
func sessionExpired(doc *goquery.Document) bool {
	return doc.Find("input[name='j_username']").Length() > 0 ||
		doc.Find("form[action*='/portal/login/preLogin']").Length() > 0
}

// parsePage parses a logged-in portal response. A bounce to the login
// page becomes ErrSessionExpired and drops the login stamp, so the
// caller's next operation re-authenticates instead of misreading the
// login page as a broken screen.
func (c *Client) parsePage(res *resty.Response) (*goquery.Document, error) {
	doc, err := parseDocument(res)
	if err != nil {
		return nil, err
	}
	if sessionExpired(doc) {
		c.Account.LoggedInAt = time.Time{}
		return nil, ErrSessionExpired
	}
	return doc, nil
}

// captureToken pulls the struts token out of a page and makes it
// current. Pages that legitimately omit the token pass required=false.
func (c *Client) captureToken(doc *goquery.Document, required bool) error {
	value, ok := doc.Find(fmt.Sprintf("input[name='%s']", tokenField)).First().Attr("value")
	if !ok {
		if required {
			return ErrTokenNotFound
		}
		return nil
	}
	c.token = value
	return nil
}

// postForm posts a raw form-urlencoded body to a portal path and
// rotates the token from the response. Every state-changing request
// in the portal goes through here.
func (c *Client) postForm(ctx context.Context, path, body string, tokenRequired bool) (*goquery.Document, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, err
	}
	doc, err := c.parsePage(res)
	if err != nil {
		return nil, err
	}
	err = c.captureToken(doc, tokenRequired)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) getPage(ctx context.Context, path string) (*goquery.Document, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, err
	}
	return c.parsePage(res)
}

// withToken prefixes a form body with the current struts token.
func (c *Client) withToken(body string) string {
	if body == "" {
		return fmt.Sprintf("%s=%s", tokenField, c.token)
	}
	return fmt.Sprintf("%s=%s&%s", tokenField, c.token, body)
}

// generalPurpose is the portal's menu dispatch: every class-support
// screen is entered through it before its own search request.
func (c *Client) generalPurpose(ctx context.Context, headTitle, menuCode, nextPath string) error {
	body := c.withToken(fmt.Sprintf(
		"headTitle=%s&menuCode=%s&nextPath=%s",
		url.QueryEscape(headTitle), menuCode, nextPath,
	))
	_, err := c.postForm(ctx, "/portal/common/generalPurpose/", body, true)
	return err
}

var loginFailurePhrases = []string{
	"ユーザ名またはパスワードが正しくありません。",
	"このサービスを利用するには，静大IDとパスワードが必要です。",
}

// Login runs the full federated handshake: seed cookies, pre-login,
// federation init, credential post to the identity provider, SAML
// assertion relay back to the portal, the optional adaptive
// authentication hop, and a final home initialize from which the live
// token and the student's display name are scraped.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	err := c.Connect(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "connect failed")
		return err
	}

	// fresh jar per login; the device-trust cookie from a previous
	// run is the only thing carried over
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c.Http.SetCookieJar(jar)
	if c.Account.AccessEnvironmentKey != "" && c.Account.AccessEnvironmentValue != "" {
		portalUrl, _ := url.Parse(BaseUrl)
		jar.SetCookies(portalUrl, []*http.Cookie{{
			Name:   c.Account.AccessEnvironmentKey,
			Value:  c.Account.AccessEnvironmentValue,
			Domain: "gakujo.shizuoka.ac.jp",
		}})
	}

	_, err = c.Http.R().SetContext(ctx).Get("/portal/")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch portal home")
		return err
	}

	_, err = c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody("mistakeChecker=0").
		Post("/portal/login/preLogin/preLogin")
	if err != nil {
		span.SetStatus(codes.Error, "pre-login failed")
		return err
	}

	_, err = c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody("selectLocale=ja&mistakeChecker=0&EXCLUDE_SET=").
		Post("/portal/shibbolethlogin/shibbolethLogin/initLogin/sso")
	if err != nil {
		span.SetStatus(codes.Error, "federation init failed")
		return err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(fmt.Sprintf(
			"j_username=%s&j_password=%s&_eventId_proceed=",
			url.QueryEscape(username), url.QueryEscape(password),
		)).
		Post(idpUrl + "/idp/profile/SAML2/Redirect/SSO?execution=e1s1")
	if err != nil {
		span.SetStatus(codes.Error, "credential post failed")
		return err
	}
	page := html.UnescapeString(res.String())
	for _, phrase := range loginFailurePhrases {
		if strings.Contains(page, phrase) {
			span.SetStatus(codes.Error, ErrAuthentication.Error())
			return ErrAuthentication
		}
	}

	doc, err := parseDocument(res)
	if err != nil {
		return err
	}
	relayState, samlResponse, err := extractSamlAssertion(doc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetHeader("Origin", idpUrl).
		SetHeader("Referer", idpUrl+"/").
		SetBody(fmt.Sprintf(
			"RelayState=%s&SAMLResponse=%s",
			url.QueryEscape(relayState), url.QueryEscape(samlResponse),
		)).
		Post("/Shibboleth.sso/SAML2/POST")
	if err != nil {
		span.SetStatus(codes.Error, "assertion relay failed")
		return err
	}
	doc, err = parseDocument(res)
	if err != nil {
		return err
	}

	err = c.registerAccessEnvironment(ctx, doc)
	if err != nil {
		span.SetStatus(codes.Error, "adaptive authentication hop failed")
		return err
	}

	doc, err = c.postForm(ctx, "/portal/home/home/initialize", "EXCLUDE_SET=", true)
	if err != nil {
		span.SetStatus(codes.Error, "home initialize failed")
		return err
	}
	name, err := extractStudentName(doc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.Account.StudentName = name
	c.Account.LoggedInAt = timezone.Now()
	slog.InfoContext(ctx, "logged in", "student", name)
	return nil
}

// registerAccessEnvironment handles the adaptive-authentication
// challenge the portal shows to unrecognized client environments.
// Registering a named environment yields a device-trust cookie which
// is persisted so later logins skip the challenge entirely.
func (c *Client) registerAccessEnvironment(ctx context.Context, doc *goquery.Document) error {
	input := doc.Find("#AdaptiveAuthentication form div input").First()
	token, ok := input.Attr("value")
	if !ok {
		return nil
	}
	c.token = token

	suffix, err := random.String(8)
	if err != nil {
		return err
	}
	body := c.withToken(fmt.Sprintf(
		"accessEnvName=%s&newAccessKey=",
		url.QueryEscape("GakujoGUI "+suffix),
	))
	_, err = c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(body).
		Post("/portal/common/accessEnvironmentRegist/goHome/")
	if err != nil {
		return err
	}

	portalUrl, _ := url.Parse(BaseUrl)
	for _, cookie := range c.Http.GetClient().Jar.Cookies(portalUrl) {
		if strings.Contains(cookie.Name, "Access-Environment-Cookie") {
			c.Account.AccessEnvironmentKey = cookie.Name
			c.Account.AccessEnvironmentValue = cookie.Value
			slog.InfoContext(ctx, "captured device-trust cookie", "name", cookie.Name)
			break
		}
	}
	return nil
}

// EnterAcademicSubsystem runs the portal-initiated SSO hop into the
// course registration subsystem and presence-tests the menu links
// that gate each registration feature. Flags being off is a normal
// state, every caller treats it as feature-unavailable-this-cycle.
func (c *Client) EnterAcademicSubsystem(ctx context.Context) (AcademicFlags, error) {
	ctx, span := tracer.Start(ctx, "client:EnterAcademicSubsystem")
	defer span.End()

	_, err := c.Http.R().SetContext(ctx).Get("/kyoumu/preLogin.do")
	if err != nil {
		span.SetStatus(codes.Error, "preLogin failed")
		return AcademicFlags{}, err
	}
	_, err = c.Http.R().
		SetContext(ctx).
		SetHeader("Origin", BaseUrl).
		SetHeader("Referer", BaseUrl+"/portal/home/home/initialize").
		Post("/portal/home/systemCooperationLink/initializeShibboleth?renkeiType=kyoumu")
	if err != nil {
		span.SetStatus(codes.Error, "cooperation link failed")
		return AcademicFlags{}, err
	}
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody("loginID=").
		Post("/kyoumu/sso/loginStudent.do")
	if err != nil {
		span.SetStatus(codes.Error, "subsystem login failed")
		return AcademicFlags{}, err
	}
	doc, err := c.parsePage(res)
	if err != nil {
		return AcademicFlags{}, err
	}

	// an extra assertion hop appears when the subsystem session has
	// expired independently of the portal session
	if relayState, samlResponse, err := extractSamlAssertion(doc); err == nil {
		res, err = c.Http.R().
			SetContext(ctx).
			SetHeader("content-type", "application/x-www-form-urlencoded").
			SetBody(fmt.Sprintf(
				"RelayState=%s&SAMLResponse=%s",
				url.QueryEscape(relayState), url.QueryEscape(samlResponse),
			)).
			Post("/Shibboleth.sso/SAML2/POST")
		if err != nil {
			span.SetStatus(codes.Error, "subsystem assertion relay failed")
			return AcademicFlags{}, err
		}
		doc, err = c.parsePage(res)
		if err != nil {
			return AcademicFlags{}, err
		}
	}

	return extractAcademicFlags(doc), nil
}

// downloadAttachment streams one response body to the download
// directory and returns the stored path.
func (c *Client) saveDownload(name string, body []byte) (string, error) {
	err := os.MkdirAll(c.downloadDir, 0755)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.downloadDir, name)
	err = os.WriteFile(path, body, 0644)
	if err != nil {
		return "", err
	}
	return path, nil
}

// downloadTemporaryFile fetches a class-support attachment through
// the temporaryFileDownload endpoint (reports, quizzes).
func (c *Client) downloadTemporaryFile(ctx context.Context, selectedKey, prefix, name string) (string, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(c.withToken(fmt.Sprintf("selectedKey=%s&prefix=%s&EXCLUDE_SET=", selectedKey, prefix))).
		Post("/portal/classsupport/fileDownload/temporaryFileDownload?EXCLUDE_SET=")
	if err != nil {
		return "", err
	}
	return c.saveDownload(name, res.Body())
}

// downloadUploadedFile fetches an attachment through the shared
// fileUploadDownload endpoint (contacts, shared files).
func (c *Client) downloadUploadedFile(ctx context.Context, prefix, no, name string) (string, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(c.withToken("prefix=default&sequence=&webspaceTabDisplayFlag=&screenName=&fileNameAutonumberFlag=&fileNameDisplayFlag=")).
		Post(fmt.Sprintf("/portal/common/fileUploadDownload/fileDownLoad?EXCLUDE_SET=&prefix=%s&no=%s&EXCLUDE_SET=", prefix, no))
	if err != nil {
		return "", err
	}
	return c.saveDownload(name, res.Body())
}
