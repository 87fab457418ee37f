package pixiv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"pixivsync/pkg/errors"
	"pixivsync/pkg/logger"
	"pixivsync/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	server     *httptest.Server
	mux        *http.ServeMux
	authCalls  atomic.Int32
	tokenCount atomic.Int32
}

// newFakeAPI serves the token endpoint at /auth/token and issues tokens
// "token-1", "token-2", ... on each exchange.
func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{mux: http.NewServeMux()}
	f.mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		f.authCalls.Add(1)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("refresh_token") != "good-refresh" && r.PostForm.Get("refresh_token") != "rotated-refresh" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"has_error":true,"errors":{"system":{"message":"invalid_grant"}}}`)
			return
		}
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.NotEmpty(t, r.Header.Get("X-Client-Hash"))
		n := f.tokenCount.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  fmt.Sprintf("token-%d", n),
			"refresh_token": "rotated-refresh",
			"expires_in":    3600,
			"user":          map[string]string{"id": "42", "name": "Me", "account": "me"},
		})
	})
	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) client(refresh string) *Client {
	return NewClient(Config{
		RefreshToken: refresh,
		BaseURL:      f.server.URL,
		AuthURL:      f.server.URL + "/auth/token",
		Timeout:      5 * time.Second,
	}, logger.NewTestLogger())
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{RefreshToken: "x"}, nil)

	assert.Equal(t, BaseURL, c.baseURL)
	assert.Equal(t, AuthURL, c.authURL)
	assert.Equal(t, DefaultUserAgent, c.headers["User-Agent"])
	assert.Equal(t, "ios", c.headers["App-OS"])
}

func TestLogin(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client("good-refresh")

	user, err := c.Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "42", user.ID)
	assert.Equal(t, int64(42), c.UserID())
	assert.Equal(t, "rotated-refresh", c.RefreshToken())
}

func TestLoginRejected(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client("bad-refresh")

	_, err := c.Login(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeAuth))
}

func TestLoginWithoutToken(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client("")

	_, err := c.Login(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(0), api.authCalls.Load())
}

func TestUserIllustsPage(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(UserIllustsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		assert.Equal(t, "manga", r.URL.Query().Get("type"))
		fmt.Fprint(w, `{
			"illusts": [
				{"id": 1, "title": "one", "type": "manga", "user": {"id": 7, "name": "Alice"},
				 "create_date": "2023-04-01T10:00:00+09:00",
				 "meta_single_page": {"original_image_url": "https://i.example/1_p0.png"}, "meta_pages": []},
				{"id": 2, "title": "two", "type": "manga", "user": {"id": 7, "name": "Alice"},
				 "meta_single_page": {},
				 "meta_pages": [
					{"image_urls": {"original": "https://i.example/2_p0.png"}},
					{"image_urls": {"original": "https://i.example/2_p1.png"}}
				 ]}
			],
			"next_url": "https://app-api.pixiv.net/v1/user/illusts?user_id=7&type=manga&offset=30"
		}`)
	})
	c := api.client("good-refresh")

	page, err := c.UserIllusts(context.Background(), UserIllustsParams(7, "manga"))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	assert.Equal(t, []string{"https://i.example/1_p0.png"}, page.Items[0].OriginalURLs())
	assert.Equal(t, []string{"https://i.example/2_p0.png", "https://i.example/2_p1.png"}, page.Items[1].OriginalURLs())
	assert.Equal(t, 2023, page.Items[0].CreateDate.Year())
	assert.Contains(t, page.NextURL, "offset=30")
}

func TestMissingBatchIsNil(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(UserNovelsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"novels": null, "next_url": null}`)
	})
	c := api.client("good-refresh")

	page, err := c.UserNovels(context.Background(), UserNovelsParams(7))
	require.NoError(t, err)
	assert.Nil(t, page.Items)
	assert.Empty(t, page.NextURL)
}

func TestNovelsSeriesRefs(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(UserNovelsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"novels": [
			{"id": 10, "title": "alone", "series": {}, "user": {"id": 7, "name": "Alice"}},
			{"id": 11, "title": "ch1", "series": {"id": 99, "title": "Saga"}, "image_urls": {"large": "https://i.example/c/240x480_80/cover.jpg"}},
			{"id": 12, "title": "friends", "series": {}, "is_mypixiv_only": true}
		], "next_url": null}`)
	})
	c := api.client("good-refresh")

	page, err := c.UserNovels(context.Background(), UserNovelsParams(7))
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	assert.False(t, page.Items[0].InSeries())
	assert.True(t, page.Items[1].InSeries())
	assert.Equal(t, "Saga", page.Items[1].Series.Title)
	assert.True(t, page.Items[2].IsMypixivOnly)
}

func TestFollowingPage(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(FollowingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "public", r.URL.Query().Get("restrict"))
		fmt.Fprint(w, `{"user_previews": [{"user": {"id": 3, "name": "Bob"}}], "next_url": null}`)
	})
	c := api.client("good-refresh")

	page, err := c.UserFollowing(context.Background(), FollowingParams(42))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(3), page.Items[0].User.ID)
}

func TestExpiredAccessTokenIsRenewed(t *testing.T) {
	api := newFakeAPI(t)
	var calls atomic.Int32
	api.mux.HandleFunc(NovelSeriesEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": {"message": "Error occurred at the OAuth process. Please check your Access Token to fix this."}}`)
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"novel_series_detail": {"id": 5, "title": "S"}, "novels": [], "next_url": null}`)
	})
	c := api.client("good-refresh")

	page, err := c.NovelSeries(context.Background(), NovelSeriesParams(5))
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Equal(t, int32(2), api.authCalls.Load())
}

func TestStatusErrorsAreTyped(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(UserIllustsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"user_message": "The creator has limited who can view this content"}}`)
	})
	c := api.client("good-refresh")

	_, err := c.UserIllusts(context.Background(), UserIllustsParams(7, "illust"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
	assert.Contains(t, err.Error(), "limited who can view")
}

func TestServerErrorNotRetriedByDefault(t *testing.T) {
	api := newFakeAPI(t)
	var calls atomic.Int32
	api.mux.HandleFunc(UserIllustsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := api.client("good-refresh")

	_, err := c.UserIllusts(context.Background(), UserIllustsParams(7, "illust"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeServerError))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDroppedConnectionIsNotRetried(t *testing.T) {
	api := newFakeAPI(t)
	var calls atomic.Int32
	api.mux.HandleFunc(UserIllustsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		conn, buf, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 512\r\n\r\n{\"illusts\": [")
		buf.Flush()
		conn.Close()
	})
	c := NewClient(Config{
		RefreshToken: "good-refresh",
		BaseURL:      api.server.URL,
		AuthURL:      api.server.URL + "/auth/token",
		MaxAttempts:  3,
		Backoff:      &retry.ConstantBackoff{Delay: 10 * time.Millisecond},
	}, logger.NewTestLogger())

	_, err := c.UserIllusts(context.Background(), UserIllustsParams(7, "illust"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeTransport))
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorRetriedWhenEnabled(t *testing.T) {
	api := newFakeAPI(t)
	var calls atomic.Int32
	api.mux.HandleFunc(UserIllustsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"illusts": [], "next_url": null}`)
	})
	c := NewClient(Config{
		RefreshToken: "good-refresh",
		BaseURL:      api.server.URL,
		AuthURL:      api.server.URL + "/auth/token",
		MaxAttempts:  2,
		Backoff:      &retry.ConstantBackoff{Delay: 10 * time.Millisecond},
	}, logger.NewTestLogger())

	page, err := c.UserIllusts(context.Background(), UserIllustsParams(7, "illust"))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidJSONIsParsingError(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(UserIllustsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>maintenance</html>`)
	})
	c := api.client("good-refresh")

	_, err := c.UserIllusts(context.Background(), UserIllustsParams(7, "illust"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeParsing))
}

func TestNovelTextFromWebview(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(NovelTextEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("id"))
		fmt.Fprint(w, `<html><script>
Object.defineProperty(window, 'pixiv', {value: {
  novel: {"id":"10","title":"alone","text":"line one\nline two"},
  isOwnWork: false,
}});
</script></html>`)
	})
	c := api.client("good-refresh")

	text, err := c.NovelText(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text)
}

func TestNovelTextLegacyJSON(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(NovelTextEndpoint, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"novel_text": "legacy body"}`)
	})
	c := api.client("good-refresh")

	text, err := c.NovelText(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "legacy body", text)
}

func TestNovelTextMissing(t *testing.T) {
	api := newFakeAPI(t)
	api.mux.HandleFunc(NovelTextEndpoint, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 10}`)
	})
	c := api.client("good-refresh")

	_, err := c.NovelText(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeUpstreamData))
}

func TestParams(t *testing.T) {
	tests := []struct {
		name string
		got  url.Values
		want map[string]string
	}{
		{"following", FollowingParams(1), map[string]string{"user_id": "1", "restrict": "public"}},
		{"illusts", UserIllustsParams(2, "illust"), map[string]string{"user_id": "2", "type": "illust"}},
		{"novels", UserNovelsParams(3), map[string]string{"user_id": "3"}},
		{"series", NovelSeriesParams(4), map[string]string{"series_id": "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.want {
				assert.Equal(t, v, tt.got.Get(k))
			}
		})
	}
}

func TestFullSizeCover(t *testing.T) {
	assert.Equal(t,
		"https://i.pximg.net/novel-cover-original/img/2020/01/01/cover.jpg",
		FullSizeCover("https://i.pximg.net/c/240x480_80/novel-cover-original/img/2020/01/01/cover.jpg"))
	assert.Equal(t, "https://i.example/cover.jpg", FullSizeCover("https://i.example/cover.jpg"))
}
