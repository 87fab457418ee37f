package pixiv

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	// BaseURL is the pixiv app API host
	BaseURL = "https://app-api.pixiv.net"

	// AuthURL is the OAuth token endpoint
	AuthURL = "https://oauth.secure.pixiv.net/auth/token"

	FollowingEndpoint   = "/v1/user/following"
	UserIllustsEndpoint = "/v1/user/illusts"
	UserNovelsEndpoint  = "/v1/user/novels"
	NovelSeriesEndpoint = "/v2/novel/series"
	NovelTextEndpoint   = "/webview/v2/novel"
)

// OAuth client credentials of the official iOS app.
const (
	clientID     = "MOBrBDS8blbauoSck0ZfDbtuzpyT"
	clientSecret = "lsACyCD94FhDUtGTXi3QzcFE2uU1hqtDaKeqrdwj"
	hashSecret   = "28c1fdd170a5204386cb1313c7077b34f83e4aaf4aa829ce78c231e05b0bae2c"
)

// coverThumbSegment is the resize segment pixiv puts in series cover URLs.
const coverThumbSegment = "/c/240x480_80/"

// FollowingParams are the initial query for a user's public follow list.
func FollowingParams(userID int64) url.Values {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("restrict", "public")
	return params
}

// UserIllustsParams are the initial query for an owner's works of workType
// ("illust" or "manga").
func UserIllustsParams(userID int64, workType string) url.Values {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("type", workType)
	params.Set("filter", "for_ios")
	return params
}

// UserNovelsParams are the initial query for an owner's novels.
func UserNovelsParams(userID int64) url.Values {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("filter", "for_ios")
	return params
}

// NovelSeriesParams are the initial query for the chapters of a series.
func NovelSeriesParams(seriesID int64) url.Values {
	params := url.Values{}
	params.Set("series_id", strconv.FormatInt(seriesID, 10))
	params.Set("filter", "for_ios")
	return params
}

// FullSizeCover strips the thumbnail resize segment from a series cover URL.
func FullSizeCover(coverURL string) string {
	return strings.Replace(coverURL, coverThumbSegment, "/", 1)
}
