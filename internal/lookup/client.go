// Package lookup fetches public profile information from the remote profile API.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tg_member_gate_bot/internal/domain"
	"tg_member_gate_bot/internal/logging"
	"tg_member_gate_bot/internal/metrics"
)

const maxBodyBytes = 1 << 20

var (
	// ErrInvalidUsername is returned before any request when the username
	// cannot be a valid handle.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrNotFound is returned for any non-200 response.
	ErrNotFound = errors.New("profile not found")
	// ErrTimeout is returned when the request exceeded its timeout.
	ErrTimeout = errors.New("profile lookup timed out")
	// ErrTransient covers local rate limiting and any other failure.
	ErrTransient = errors.New("profile lookup failed")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// Client issues one GET per lookup. It never retries and never caches.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

// NewClient constructs a Client for baseURL. requestsPerSecond bounds the
// outbound request rate across all callers.
func NewClient(baseURL string, timeout time.Duration, requestsPerSecond float64, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logging.Logger()
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		logger:     logger,
	}
}

// NormalizeUsername trims whitespace and a leading @ and validates the
// remaining handle.
func NormalizeUsername(raw string) (string, error) {
	username := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, raw)
	}
	return username, nil
}

// Fetch looks up username. Errors wrap one of ErrInvalidUsername,
// ErrNotFound, ErrTimeout or ErrTransient.
func (c *Client) Fetch(ctx context.Context, raw string) (domain.Profile, error) {
	start := time.Now()

	profile, err := c.fetch(ctx, raw)
	metrics.ObserveLookup(outcome(err), start)

	fields := logging.Fields{
		"event":       "profile_lookup",
		"outcome":     outcome(err),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidUsername) {
		c.logger.WithFields(fields).WithError(err).Warn("profile lookup failed")
	} else {
		c.logger.WithFields(fields).Debug("profile lookup finished")
	}

	return profile, err
}

func (c *Client) fetch(ctx context.Context, raw string) (domain.Profile, error) {
	username, err := NormalizeUsername(raw)
	if err != nil {
		return domain.Profile{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// A rejected reservation means no request was sent, so it is never a
	// timeout of the remote API.
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: rate limited: %v", ErrTransient, err)
	}

	endpoint := c.baseURL + "/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("%w: build request: %v", ErrTransient, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return domain.Profile{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return domain.Profile{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return domain.Profile{}, fmt.Errorf("%w: status %d for %s", ErrNotFound, resp.StatusCode, username)
	}

	var payload profilePayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		if isTimeout(ctx, err) {
			return domain.Profile{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return domain.Profile{}, fmt.Errorf("%w: decode response: %v", ErrTransient, err)
	}

	profile := payload.profile()
	if profile.Username == "" {
		profile.Username = username
	}

	return profile, nil
}

type profilePayload struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Followers flexCount `json:"followers"`
	Following flexCount `json:"following"`
	Posts     flexCount `json:"posts"`
	Biography string    `json:"biography"`
}

func (p profilePayload) profile() domain.Profile {
	return domain.Profile{
		Username:  strings.TrimPrefix(strings.TrimSpace(p.Username), "@"),
		FullName:  strings.TrimSpace(p.FullName),
		Followers: p.Followers.value,
		Following: p.Following.value,
		Posts:     p.Posts.value,
		Biography: strings.TrimSpace(p.Biography),
	}
}

// flexCount accepts a JSON number or a numeric string. Anything else,
// including null, leaves the count absent.
type flexCount struct {
	value *int64
}

func (f *flexCount) UnmarshalJSON(data []byte) error {
	f.value = nil

	var number json.Number
	if err := json.Unmarshal(data, &number); err == nil {
		f.value = parseCount(number.String())
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		f.value = parseCount(strings.ReplaceAll(strings.TrimSpace(text), ",", ""))
	}

	return nil
}

func parseCount(raw string) *int64 {
	if raw == "" {
		return nil
	}
	if n, err := json.Number(raw).Int64(); err == nil {
		return &n
	}
	if f, err := json.Number(raw).Float64(); err == nil && f >= 0 && f < 1<<62 {
		n := int64(f)
		return &n
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidUsername):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
