package syncer

import (
	"context"
	"net/url"

	"pixivsync/pkg/pagination"
	"pixivsync/pkg/pixiv"
)

// Remote defines the pixiv API operations the syncer needs. *pixiv.Client
// implements it.
type Remote interface {
	UserFollowing(ctx context.Context, params url.Values) (*pagination.Page[pixiv.UserPreview], error)
	UserIllusts(ctx context.Context, params url.Values) (*pagination.Page[pixiv.Illust], error)
	UserNovels(ctx context.Context, params url.Values) (*pagination.Page[pixiv.Novel], error)
	NovelSeries(ctx context.Context, params url.Values) (*pagination.Page[pixiv.Novel], error)
	NovelText(ctx context.Context, novelID int64) (string, error)
}

var _ Remote = (*pixiv.Client)(nil)
