package spc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"
	"github.com/j-keck/arping"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "spc",
})

const timeout = 10 * time.Second

const (
	pageSummary = "system_summary"
	pageArm     = "status_arm"
	pageZones   = "status_zones"
)

// Session is one authenticated connection to an SPC panel web UI.
//
// It is safe for concurrent use, although callers are expected to
// serialize polls.
type Session struct {
	base     *url.URL
	userid   string
	password string
	http     *http.Client

	mu      sync.Mutex
	id      string
	summary Summary
}

type Option func(*Session)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(cli *http.Client) Option {
	return func(s *Session) {
		s.http = cli
	}
}

// New creates a session for the panel at rawURL. It does not talk to the
// panel, call Login for that.
func New(rawURL, userid, password string, opts ...Option) (*Session, error) {
	base, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing scheme or host", rawURL)
	}
	jar, _ := cookiejar.New(nil)
	s := &Session{
		base:     base,
		userid:   userid,
		password: password,
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MacAddress resolves the hardware address of the panel, which some
// installs use as identifier when the serial number is hidden.
func MacAddress(ip string) (string, error) {
	hw, _, err := arping.Ping(net.ParseIP(ip))
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}

func (s *Session) SerialNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.SerialNumber
}

func (s *Session) Site() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.Site
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.Model
}

func (s *Session) Firmware() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.Firmware
}

// Login authenticates and loads the panel identity.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.login(ctx); err != nil {
		return err
	}

	p, err := s.get(ctx, pageSummary)
	if err != nil {
		return err
	}
	s.summary = parseSummary(p.rows)
	log.Info(
		"logged in",
		"site", s.summary.Site,
		"model", s.summary.Model,
		"serial", s.summary.SerialNumber,
		"firmware", s.summary.Firmware,
	)
	return nil
}

// ArmState returns the overall arm state across all areas.
func (s *Session) ArmState(ctx context.Context) (ArmState, error) {
	areas, err := s.Areas(ctx)
	if err != nil {
		return 0, err
	}
	return overallArmState(areas), nil
}

func (s *Session) Areas(ctx context.Context) ([]Area, error) {
	p, err := s.fetch(ctx, pageArm)
	if err != nil {
		return nil, err
	}
	areas, err := parseAreas(p.rows)
	if err != nil {
		return nil, s.parseError(ctx, "arm state", err)
	}
	log.Debug("areas", "count", len(areas))
	return areas, nil
}

// Zones returns the zones in the order the panel lists them.
func (s *Session) Zones(ctx context.Context) ([]Zone, error) {
	p, err := s.fetch(ctx, pageZones)
	if err != nil {
		return nil, err
	}
	zones, err := parseZones(p.rows)
	if err != nil {
		return nil, s.parseError(ctx, "zones", err)
	}
	log.Debug("zones", "count", len(zones))
	return zones, nil
}

// Close logs out. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		return nil
	}
	u := s.secureURL("")
	q := u.Query()
	q.Set("action", "logout")
	u.RawQuery = q.Encode()
	s.id = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("could not logout: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return transportError(ctx, "logout", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.http.CloseIdleConnections()
	log.Debug("logged out")
	return nil
}

// fetch reads a secure page, logging in again once if the panel dropped
// the session.
func (s *Session) fetch(ctx context.Context, name string) (page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		return page{}, authError(name, ErrNotLoggedIn)
	}

	p, err := s.get(ctx, name)
	if !errors.Is(err, ErrSessionExpired) {
		return p, err
	}

	log.Warn("session expired, logging in again")
	if err := s.login(ctx); err != nil {
		return page{}, err
	}
	return s.get(ctx, name)
}

func (s *Session) login(ctx context.Context) error {
	u := s.base.JoinPath("login.htm")
	u.RawQuery = url.Values{
		"action":   {"login"},
		"language": {"0"},
	}.Encode()

	form := url.Values{
		"userid":   {s.userid},
		"password": {s.password},
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		u.String(),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("could not login: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	p, final, err := s.do(req, "login")
	if err != nil {
		return err
	}

	id := findSession(final)
	if id == "" {
		id = p.sessionID
	}
	if id == "" {
		return authError("login", ErrInvalidCredentials)
	}
	s.id = id
	log.Debug("got session", "session", id)
	return nil
}

func (s *Session) get(ctx context.Context, name string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.secureURL(name).String(), nil)
	if err != nil {
		return page{}, fmt.Errorf("could not get %s: %w", name, err)
	}
	p, _, err := s.do(req, name)
	if err != nil {
		return page{}, err
	}
	if p.loginForm {
		return page{}, panelError(name, ErrSessionExpired)
	}
	return p, nil
}

// do executes req and parses the response. It also returns the final URL,
// after redirects, since the panel encodes the session in it.
func (s *Session) do(req *http.Request, op string) (page, string, error) {
	ctx := req.Context()
	resp, err := s.http.Do(req)
	if err != nil {
		return page{}, "", transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return page{}, "", panelError(op, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	p, err := parsePage(resp.Body)
	if err != nil {
		return page{}, "", transportError(ctx, op, err)
	}
	return p, resp.Request.URL.String(), nil
}

func (s *Session) parseError(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrUnexpectedPage) {
		return panelError(op, err)
	}
	return transportError(ctx, op, err)
}

func (s *Session) secureURL(name string) *url.URL {
	u := s.base.JoinPath("secure.htm")
	q := url.Values{"session": {s.id}}
	if name != "" {
		q.Set("page", name)
	}
	u.RawQuery = q.Encode()
	return u
}
