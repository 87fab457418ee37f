package pixiv

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"pixivsync/pkg/errors"
	"pixivsync/pkg/logger"
	"pixivsync/pkg/pagination"
	"pixivsync/pkg/ratelimit"
	"pixivsync/pkg/retry"
)

// DefaultUserAgent mimics the official iOS app.
const DefaultUserAgent = "PixivIOSApp/7.13.3 (iOS 14.6; iPhone13,2)"

// tokenSkew renews the access token slightly before pixiv expires it.
const tokenSkew = time.Minute

// Config configures a Client. Zero values fall back to the production hosts
// and defaults.
type Config struct {
	RefreshToken string
	UserAgent    string
	Timeout      time.Duration
	// MaxAttempts bounds repeats of 429 and 5xx answers. Defaults to 1.
	MaxAttempts int
	Limiter     ratelimit.Limiter

	// Backoff overrides the per-error-type retry delays.
	Backoff retry.BackoffStrategy

	BaseURL string
	AuthURL string
}

// Client talks to the pixiv app API with a refresh token.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	authURL    string
	limiter    ratelimit.Limiter
	retrier    *retry.Retrier
	logger     logger.Logger
	now        func() time.Time

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiresAt    time.Time
	user         AuthUser
}

// NewClient creates a new pixiv API client
func NewClient(cfg Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = AuthURL
	}

	retrier := retry.NewHTTPRetrier(cfg.MaxAttempts, log)
	if cfg.Backoff != nil {
		retrier = retrier.WithBackoff(cfg.Backoff)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"App-OS":          "ios",
			"App-OS-Version":  "14.6",
			"Accept-Language": "en-us",
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authURL:      cfg.AuthURL,
		limiter:      cfg.Limiter,
		retrier:      retrier,
		logger:       log,
		now:          time.Now,
		refreshToken: cfg.RefreshToken,
	}
}

// RefreshToken returns the current refresh token. pixiv may rotate it on
// every exchange.
func (c *Client) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken
}

// User returns the account of the last successful token exchange.
func (c *Client) User() AuthUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// UserID returns the numeric id of the authenticated account, or 0.
func (c *Client) UserID() int64 {
	id, _ := strconv.ParseInt(c.User().ID, 10, 64)
	return id
}

// Login exchanges the refresh token for an access token.
func (c *Client) Login(ctx context.Context) (AuthUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.authenticate(ctx); err != nil {
		return AuthUser{}, err
	}
	return c.user, nil
}

// token returns a valid access token, renewing it when expired or when force
// is set.
func (c *Client) token(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.accessToken != "" && c.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}
	if err := c.authenticate(ctx); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

// authenticate must be called with mu held.
func (c *Client) authenticate(ctx context.Context) error {
	if c.refreshToken == "" {
		return errors.New(errors.ErrorTypeAuth, "auth", "no refresh token configured")
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("include_policy", "true")
	form.Set("refresh_token", c.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(errors.ErrorTypeUnknown, "auth", err)
	}
	clientTime := c.now().UTC().Format("2006-01-02T15:04:05+00:00")
	sum := md5.Sum([]byte(clientTime + hashSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Client-Time", clientTime)
	req.Header.Set("X-Client-Hash", hex.EncodeToString(sum[:]))

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.ErrorWithFields("token exchange rejected", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
		})
		return &errors.Error{
			Type:    errors.ErrorTypeAuth,
			Op:      "auth",
			Message: "refresh token rejected",
			Code:    resp.StatusCode,
		}
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return &errors.Error{Type: errors.ErrorTypeParsing, Op: "auth", Err: err}
	}
	if ar.AccessToken == "" {
		return errors.New(errors.ErrorTypeAuth, "auth", "response carried no access token")
	}

	c.accessToken = ar.AccessToken
	if ar.RefreshToken != "" {
		c.refreshToken = ar.RefreshToken
	}
	expires := time.Duration(ar.ExpiresIn) * time.Second
	if expires <= tokenSkew {
		expires = 2 * tokenSkew
	}
	c.expiresAt = c.now().Add(expires - tokenSkew)
	c.user = ar.User

	c.logger.InfoWithFields("authenticated", map[string]interface{}{
		"user_id": ar.User.ID,
		"account": ar.User.Account,
	})
	return nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.Redacted(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.Redacted(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.Transport(req.Method+" "+req.URL.Path, 0, err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.Redacted(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// get performs an authenticated GET and returns the body of a 2xx response.
// An OAuth failure renews the access token once and repeats the request.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reauthed := false
	for {
		token, err := c.token(ctx, false)
		if err != nil {
			return nil, err
		}

		u := c.baseURL + endpoint
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorTypeUnknown, "GET "+endpoint, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.doRequest(req)
		if err != nil {
			return nil, err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, errors.Transport("GET "+endpoint, resp.StatusCode, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		if resp.StatusCode == http.StatusBadRequest && isOAuthFailure(body) && !reauthed {
			c.logger.Info("access token rejected, renewing")
			if _, err := c.token(ctx, true); err != nil {
				return nil, err
			}
			reauthed = true
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			logger.LogRateLimit(endpoint, retryAfter)
		}
		return nil, c.statusError(endpoint, resp.StatusCode, body)
	}
}

func (c *Client) statusError(endpoint string, code int, body []byte) error {
	msg := fmt.Sprintf("unexpected status code: %d", code)
	var apiErr apiErrorBody
	if json.Unmarshal(body, &apiErr) == nil {
		if m := firstNonEmpty(apiErr.Error.Message, apiErr.Error.UserMessage, apiErr.Error.Reason); m != "" {
			msg = m
		}
	}

	t := errors.FromStatus(code)
	fields := map[string]interface{}{
		"status":   code,
		"endpoint": endpoint,
		"message":  msg,
	}
	if errors.IsRetryable(t) {
		c.logger.WarnWithFields("API request failed", fields)
	} else {
		c.logger.ErrorWithFields("API request failed", fields)
	}
	return &errors.Error{Type: t, Op: "GET " + endpoint, Message: msg, Code: code}
}

// getJSON fetches endpoint and decodes the body into target. 429 and 5xx
// answers are repeated when the client was built with MaxAttempts > 1.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, target interface{}) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		body, err := c.get(ctx, endpoint, params)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, target); err != nil {
			preview := string(body)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"endpoint":     endpoint,
				"error":        err.Error(),
				"body_preview": preview,
			})
			return &errors.Error{Type: errors.ErrorTypeParsing, Op: "GET " + endpoint, Err: err}
		}
		return nil
	})
}

// UserFollowing returns one page of the users followed by params' user_id.
func (c *Client) UserFollowing(ctx context.Context, params url.Values) (*pagination.Page[UserPreview], error) {
	var resp followingResponse
	if err := c.getJSON(ctx, FollowingEndpoint, params, &resp); err != nil {
		return nil, err
	}
	return &pagination.Page[UserPreview]{Items: resp.UserPreviews, NextURL: deref(resp.NextURL)}, nil
}

// UserIllusts returns one page of an owner's illustrations or manga.
func (c *Client) UserIllusts(ctx context.Context, params url.Values) (*pagination.Page[Illust], error) {
	var resp illustsResponse
	if err := c.getJSON(ctx, UserIllustsEndpoint, params, &resp); err != nil {
		return nil, err
	}
	return &pagination.Page[Illust]{Items: resp.Illusts, NextURL: deref(resp.NextURL)}, nil
}

// UserNovels returns one page of an owner's novels.
func (c *Client) UserNovels(ctx context.Context, params url.Values) (*pagination.Page[Novel], error) {
	var resp novelsResponse
	if err := c.getJSON(ctx, UserNovelsEndpoint, params, &resp); err != nil {
		return nil, err
	}
	return &pagination.Page[Novel]{Items: resp.Novels, NextURL: deref(resp.NextURL)}, nil
}

// NovelSeries returns one page of the chapters of a series.
func (c *Client) NovelSeries(ctx context.Context, params url.Values) (*pagination.Page[Novel], error) {
	var resp seriesResponse
	if err := c.getJSON(ctx, NovelSeriesEndpoint, params, &resp); err != nil {
		return nil, err
	}
	return &pagination.Page[Novel]{Items: resp.Novels, NextURL: deref(resp.NextURL)}, nil
}

var novelObject = regexp.MustCompile(`(?s)novel:\s*(\{.+\}),\s*isOwnWork`)

// NovelText returns the body of a novel. The webview page embeds the novel as
// a JavaScript object literal; a plain JSON body is accepted too.
func (c *Client) NovelText(ctx context.Context, novelID int64) (string, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(novelID, 10))
	params.Set("viewer_version", "20221031_ai")

	return c.retrier.DoWithResult(ctx, func(ctx context.Context) (string, error) {
		body, err := c.get(ctx, NovelTextEndpoint, params)
		if err != nil {
			return "", err
		}
		if m := novelObject.FindSubmatch(body); m != nil {
			body = m[1]
		}
		var content novelContent
		if err := json.Unmarshal(bytes.TrimSpace(body), &content); err != nil {
			return "", &errors.Error{Type: errors.ErrorTypeParsing, Op: "novel text", Err: err}
		}
		switch {
		case content.Text != nil:
			return *content.Text, nil
		case content.NovelText != nil:
			return *content.NovelText, nil
		}
		return "", errors.UpstreamData("novel text", fmt.Sprintf("novel %d has no text", novelID))
	})
}

func isOAuthFailure(body []byte) bool {
	var apiErr apiErrorBody
	if json.Unmarshal(body, &apiErr) != nil {
		return false
	}
	return strings.Contains(apiErr.Error.Message, "OAuth") ||
		strings.Contains(apiErr.Error.Message, "invalid_grant")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
