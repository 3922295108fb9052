package inverter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gridwatch/gridwatch/pkg/common"
	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/types"
)

const (
	luxLoginPath   = "WManage/api/login"
	luxRuntimePath = "WManage/api/inverter/getInverterRuntime"
	luxHistoryPath = "WManage/web/analyze/data"

	// historyPageRows is the page size for the day endpoint; a shorter page
	// signals exhaustion.
	historyPageRows = 10000

	sessionCookieName = "JSESSIONID"
)

// Live-status thresholds. History decoding deliberately does not use these;
// there a sample is "on" whenever the reported voltage is above zero.
const (
	gridVoltageMinV = 160.0
	gridFreqMinHz   = 45.0
	gridFreqMaxHz   = 55.0
)

// ErrAuthFailed indicates the upstream rejected our credentials entirely.
// Nothing can be retrieved without a session, so callers propagate this
// instead of degrading.
var ErrAuthFailed = errors.New("authentication failed")

var (
	errUnauthorized = errors.New("unauthorized")
	errNoData       = errors.New("no data")
)

// Luxpower implements Source against the Luxpower monitor portal. Requests
// are authorized with a session cookie obtained through the Authenticator;
// the session is invalidated on 401/403 and lazily recreated.
type Luxpower struct {
	client   *http.Client
	baseURL  string
	auth     Authenticator
	sessions sessionStore
	loc      *time.Location
	serial   string
}

// NewLuxpower returns a client for the portal at baseURL authenticating
// with the given account. loc is the provider-local timezone used for day
// bucketing and zone-less timestamps.
func NewLuxpower(baseURL, username, password string, loc *time.Location) *Luxpower {
	client := common.HTTPClient(time.Minute)
	return &Luxpower{
		client:  client,
		baseURL: baseURL,
		loc:     loc,
		auth: &formLogin{
			client:   noRedirect(client),
			baseURL:  baseURL,
			username: username,
			password: password,
		},
	}
}

// Location returns the provider-local timezone.
func (l *Luxpower) Location() *time.Location {
	return l.loc
}

// Serial returns the configured default inverter serial.
func (l *Luxpower) Serial() string {
	return l.serial
}

// formLogin authenticates with the portal's form login endpoint and captures
// the session cookie from the response. Redirects are not followed because
// the cookie is set on the initial response.
type formLogin struct {
	client   *http.Client
	baseURL  string
	username string
	password string
}

func (a *formLogin) Login(ctx context.Context) (string, error) {
	data := url.Values{}
	data.Set("account", a.username)
	data.Set("password", a.password)

	u, err := url.JoinPath(a.baseURL, luxLoginPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Ctx(ctx).ErrorContext(ctx, "login rejected", slog.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			log.Ctx(ctx).DebugContext(ctx, "logged in to luxpower")
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("%w: response missing session cookie", ErrAuthFailed)
}

func noRedirect(c *http.Client) *http.Client {
	nc := *c
	nc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &nc
}

// ensureSession returns the current session identifier, logging in first if
// none is held. Login failures wrap ErrAuthFailed.
func (l *Luxpower) ensureSession(ctx context.Context) (string, error) {
	if id := l.sessions.current(); id != "" {
		return id, nil
	}
	id, err := l.auth.Login(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to login: %w", err)
	}
	l.sessions.set(id)
	return id, nil
}

func (l *Luxpower) newPostFormRequest(ctx context.Context, endpoint string, query, form url.Values) (*http.Request, error) {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req, nil
}

// doRequest performs an authorized request and decodes the JSON response
// into dest. Auth and no-data responses are reported as typed errors so
// callers can recover or degrade.
func (l *Luxpower) doRequest(req *http.Request, sessionID string, dest interface{}) error {
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sessionID})

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errUnauthorized
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return errNoData
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode luxpower response",
			slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type runtimeResult struct {
	Success   *bool   `json:"success"`
	SerialNum string  `json:"serialNum"`
	PToGrid   float64 `json:"pToGrid"`
	PToUser   float64 `json:"pToUser"`
	VacR      float64 `json:"vacr"`
	VacT      float64 `json:"vact"`
	Fac       float64 `json:"fac"`
	Status    int     `json:"status"`
}

// GetStatus returns the live grid status for the given serial. An expired
// session is recovered with one re-login and retry.
func (l *Luxpower) GetStatus(ctx context.Context, serial string) (types.GridStatus, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := l.ensureSession(ctx)
		if err != nil {
			return types.GridStatus{}, err
		}

		req, err := l.newPostFormRequest(ctx, luxRuntimePath, nil, url.Values{"serialNum": {serial}})
		if err != nil {
			return types.GridStatus{}, err
		}

		var res runtimeResult
		err = l.doRequest(req, id, &res)
		if errors.Is(err, errUnauthorized) {
			log.Ctx(ctx).DebugContext(ctx, "luxpower session expired")
			l.sessions.invalidate(id)
			continue
		}
		if err != nil {
			return types.GridStatus{}, fmt.Errorf("getInverterRuntime failed: %w", err)
		}
		if res.Success != nil && !*res.Success {
			return types.GridStatus{}, errors.New("runtime endpoint reported failure")
		}

		return decodeRuntime(res, time.Now().In(l.loc)), nil
	}
	return types.GridStatus{}, fmt.Errorf("runtime request still unauthorized after re-login: %w", ErrAuthFailed)
}

// decodeRuntime converts the raw runtime payload into a GridStatus. Voltage
// is reported in tenths of a volt (vacr, falling back to vact) and
// frequency in hundredths of a hertz.
func decodeRuntime(res runtimeResult, now time.Time) types.GridStatus {
	var volts float64
	switch {
	case res.VacR > 0:
		volts = res.VacR / 10
	case res.VacT > 0:
		volts = res.VacT / 10
	}
	freq := res.Fac / 100

	var power float64
	switch {
	case res.PToGrid > 0:
		power = res.PToGrid
	case res.PToUser > 0:
		power = -res.PToUser
	case res.PToGrid < 0:
		power = res.PToGrid
	case res.PToUser < 0:
		power = -res.PToUser
	}

	return types.GridStatus{
		HasElectricity: volts > gridVoltageMinV && freq > gridFreqMinHz && freq < gridFreqMaxHz,
		GridVoltage:    volts,
		GridFrequency:  freq,
		GridPowerW:     power,
		Timestamp:      now,
	}
}

type historyPageResult struct {
	Rows  []json.RawMessage `json:"rows"`
	Total int               `json:"total"`
}

// FetchDay retrieves every sample for one calendar day, paging until a
// short page or the reported total confirms exhaustion. An unauthorized
// response anywhere in the day invalidates the session and retries the
// whole day from page 1, once; a second consecutive rejection fails the
// day. A 404/400 means the upstream simply has no record for that day.
func (l *Luxpower) FetchDay(ctx context.Context, serial, dateKey string) ([]types.Sample, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := l.ensureSession(ctx)
		if err != nil {
			return nil, err
		}

		samples, err := l.fetchDayPages(ctx, id, serial, dateKey)
		if errors.Is(err, errUnauthorized) {
			log.Ctx(ctx).WarnContext(ctx, "session expired mid-day, re-authenticating",
				slog.String("date", dateKey))
			l.sessions.invalidate(id)
			continue
		}
		if errors.Is(err, errNoData) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch day %s: %w", dateKey, err)
		}
		return samples, nil
	}
	// not ErrAuthFailed: login itself worked, so the caller degrades this
	// day instead of aborting the whole range
	return nil, fmt.Errorf("day %s still unauthorized after re-login", dateKey)
}

func (l *Luxpower) fetchDayPages(ctx context.Context, sessionID, serial, dateKey string) ([]types.Sample, error) {
	var samples []types.Sample
	now := time.Now().In(l.loc)

	for page := 1; ; page++ {
		form := url.Values{}
		form.Set("page", strconv.Itoa(page))
		form.Set("rows", strconv.Itoa(historyPageRows))

		req, err := l.newPostFormRequest(ctx, luxHistoryPath+"/"+dateKey,
			url.Values{"serialNum": {serial}}, form)
		if err != nil {
			return nil, err
		}

		var res historyPageResult
		if err := l.doRequest(req, sessionID, &res); err != nil {
			return nil, err
		}

		if len(res.Rows) == 0 {
			break
		}
		for _, raw := range res.Rows {
			if s, ok := decodeSample(ctx, raw, l.loc, now); ok {
				samples = append(samples, s)
			}
		}

		if len(res.Rows) < historyPageRows {
			break
		}
		if res.Total > 0 && page*historyPageRows >= res.Total {
			break
		}
	}

	log.Ctx(ctx).DebugContext(ctx, "fetched day from upstream",
		slog.String("date", dateKey), slog.Int("samples", len(samples)))
	return samples, nil
}
