package pixiv

import "time"

// User is the creator block embedded in works and follow previews.
type User struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Account string `json:"account"`
}

// UserPreview is one entry of a follow list.
type UserPreview struct {
	User User `json:"user"`
}

// ImageURLs holds the sized variants of an image.
type ImageURLs struct {
	SquareMedium string `json:"square_medium"`
	Medium       string `json:"medium"`
	Large        string `json:"large"`
	Original     string `json:"original"`
}

// MetaSinglePage is populated only for single-page works.
type MetaSinglePage struct {
	OriginalImageURL string `json:"original_image_url"`
}

// MetaPage is one page of a multi-page work.
type MetaPage struct {
	ImageURLs ImageURLs `json:"image_urls"`
}

// Illust is an illustration or manga as returned by the app API.
type Illust struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	Type           string         `json:"type"`
	CreateDate     time.Time      `json:"create_date"`
	PageCount      int            `json:"page_count"`
	User           User           `json:"user"`
	ImageURLs      ImageURLs      `json:"image_urls"`
	MetaSinglePage MetaSinglePage `json:"meta_single_page"`
	MetaPages      []MetaPage     `json:"meta_pages"`
}

// OriginalURLs lists the full-size page URLs in page order.
func (i Illust) OriginalURLs() []string {
	if i.MetaSinglePage.OriginalImageURL != "" {
		return []string{i.MetaSinglePage.OriginalImageURL}
	}
	urls := make([]string, 0, len(i.MetaPages))
	for _, p := range i.MetaPages {
		if p.ImageURLs.Original != "" {
			urls = append(urls, p.ImageURLs.Original)
		}
	}
	return urls
}

// SeriesRef is the series block of a novel. ID is zero for standalone novels,
// which the API returns as an empty object.
type SeriesRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Novel is a novel as returned by the app API.
type Novel struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	CreateDate    time.Time `json:"create_date"`
	User          User      `json:"user"`
	ImageURLs     ImageURLs `json:"image_urls"`
	Series        SeriesRef `json:"series"`
	IsMypixivOnly bool      `json:"is_mypixiv_only"`
	TextLength    int       `json:"text_length"`
}

// InSeries reports whether the novel belongs to a series.
func (n Novel) InSeries() bool {
	return n.Series.ID != 0
}

type followingResponse struct {
	UserPreviews []UserPreview `json:"user_previews"`
	NextURL      *string       `json:"next_url"`
}

type illustsResponse struct {
	Illusts []Illust `json:"illusts"`
	NextURL *string  `json:"next_url"`
}

type novelsResponse struct {
	Novels  []Novel `json:"novels"`
	NextURL *string `json:"next_url"`
}

// NovelSeriesDetail describes a series as a whole.
type NovelSeriesDetail struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	User  User   `json:"user"`
}

type seriesResponse struct {
	Detail  NovelSeriesDetail `json:"novel_series_detail"`
	Novels  []Novel           `json:"novels"`
	NextURL *string           `json:"next_url"`
}

// novelContent is the JSON object embedded in the novel webview page. Older
// API versions returned the same body under novel_text.
type novelContent struct {
	Text      *string `json:"text"`
	NovelText *string `json:"novel_text"`
}

// AuthUser is the account a refresh token belongs to.
type AuthUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Account string `json:"account"`
}

type authResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	User         AuthUser `json:"user"`
}

type apiErrorBody struct {
	Error struct {
		Message     string `json:"message"`
		UserMessage string `json:"user_message"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
