package syncer

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"pixivsync/internal/downloader"
	"pixivsync/pkg/errors"
	"pixivsync/pkg/fetch"
	"pixivsync/pkg/layout"
	"pixivsync/pkg/ledger"
	"pixivsync/pkg/logger"
	"pixivsync/pkg/models"
	"pixivsync/pkg/naming"
	"pixivsync/pkg/pagination"
	"pixivsync/pkg/pixiv"
	"pixivsync/pkg/ratelimit"
)

// Options tune a Syncer.
type Options struct {
	// Concurrency is the number of items processed at once. 1 keeps the
	// remote's order.
	Concurrency int

	// PageDelay is the pause between consecutive page requests. It holds
	// across walks too: the first page of one owner waits for the last page
	// of the previous one. Callers normally pass pagination.DefaultDelay.
	PageDelay time.Duration

	// Observer receives every Event.
	Observer func(Event)
}

// Syncer mirrors the works of a set of owners into one save path.
type Syncer struct {
	remote  Remote
	store   *ledger.Store
	layout  *layout.Manager
	fetcher *fetch.Fetcher
	opts    Options
	logger  logger.Logger

	// pages paces every listing request made by this Syncer
	pages *ratelimit.FixedDelay

	warnings atomic.Int64
}

// New creates a Syncer. The layout manager and fetcher must share the same
// storage root; their warnings are routed to the Syncer's observer.
func New(remote Remote, store *ledger.Store, lm *layout.Manager, fetcher *fetch.Fetcher, opts Options, log logger.Logger) *Syncer {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	s := &Syncer{
		remote:  remote,
		store:   store,
		layout:  lm,
		fetcher: fetcher,
		opts:    opts,
		logger:  log,
		pages:   ratelimit.NewFixedDelay(opts.PageDelay),
	}
	lm.OnWarning = s.warn
	fetcher.OnWarning = s.warn
	return s
}

// Plan selects what Run does.
type Plan struct {
	// UserID is the account whose follow list supplies the owners when
	// Owners is empty.
	UserID int64
	Owners []models.Owner

	Illust bool
	Manga  bool
	Novel  bool
}

// Run resolves the owners and runs every enabled pass. A failing pass never
// prevents the others.
func (s *Syncer) Run(ctx context.Context, plan Plan) RunReport {
	start := s.warnings.Load()
	var rr RunReport

	owners := plan.Owners
	if len(owners) == 0 {
		var err error
		owners, err = s.Following(ctx, plan.UserID)
		if err != nil {
			rr.Err = fmt.Errorf("list followed users: %w", err)
			if len(owners) == 0 {
				return rr
			}
			s.logger.WithError(err).Warn("Follow list incomplete, syncing the owners found so far")
		}
	}
	rr.Owners = len(owners)

	if plan.Illust {
		rr.Passes = append(rr.Passes, s.SyncIllusts(ctx, owners, models.TypeIllust))
	}
	if plan.Manga {
		rr.Passes = append(rr.Passes, s.SyncIllusts(ctx, owners, models.TypeManga))
	}
	if plan.Novel {
		rr.Passes = append(rr.Passes, s.SyncNovels(ctx, owners))
	}

	rr.Warnings = int(s.warnings.Load() - start)
	if rr.Err == nil {
		rr.Err = ctx.Err()
	}
	return rr
}

// Following walks the follow list of userID. On failure the owners collected
// before the failing page are returned with the error.
func (s *Syncer) Following(ctx context.Context, userID int64) ([]models.Owner, error) {
	walker := pagination.New(s.remote.UserFollowing, pixiv.FollowingParams(userID), s.walkOptions("following")...)

	var owners []models.Owner
	err := walker.Each(ctx, func(p pixiv.UserPreview) error {
		owners = append(owners, models.Owner{ID: p.User.ID, Name: p.User.Name})
		return nil
	})

	s.logger.InfoWithFields("Resolved followed users", map[string]interface{}{
		"user_id": userID,
		"owners":  len(owners),
		"pages":   walker.Pages(),
	})
	return owners, err
}

// SyncIllusts mirrors every owner's works of workType ("illust" or "manga").
func (s *Syncer) SyncIllusts(ctx context.Context, owners []models.Owner, workType string) Report {
	rep := Report{Pass: workType}

	for _, owner := range owners {
		if ctx.Err() != nil {
			rep.Errs = append(rep.Errs, ctx.Err())
			break
		}
		rep.merge(s.syncOwnerIllusts(ctx, owner, workType))
	}

	logger.LogPass(workType, rep.Committed, rep.Skipped, rep.Failed, rep.Err())
	return rep
}

func (s *Syncer) syncOwnerIllusts(ctx context.Context, owner models.Owner, workType string) Report {
	rep := Report{Pass: workType}
	name := fmt.Sprintf("%s of user %d", workType, owner.ID)
	walker := pagination.New(s.remote.UserIllusts, pixiv.UserIllustsParams(owner.ID, workType), s.walkOptions(name)...)

	b := s.startBatch(ctx, &rep)
	for walker.Next(ctx) {
		for _, raw := range walker.Items() {
			il := toIllustration(raw, owner, workType)
			if err := b.submit("illust "+strconv.FormatInt(il.ID, 10), func(ctx context.Context) (State, error) {
				return s.syncIllustration(ctx, workType, il)
			}); err != nil {
				break
			}
		}
	}
	b.wait()

	if err := walker.Err(); err != nil {
		rep.Errs = append(rep.Errs, err)
	}
	return rep
}

func toIllustration(raw pixiv.Illust, owner models.Owner, workType string) models.Illustration {
	il := models.Illustration{
		ID:        raw.ID,
		Title:     raw.Title,
		Type:      raw.Type,
		OwnerID:   raw.User.ID,
		OwnerName: raw.User.Name,
		CreatedAt: raw.CreateDate,
		PageURLs:  raw.OriginalURLs(),
	}
	if il.Type == "" {
		il.Type = workType
	}
	if il.OwnerID == 0 {
		il.OwnerID = owner.ID
	}
	if il.OwnerName == "" {
		il.OwnerName = owner.Name
	}
	return il
}

func (s *Syncer) syncIllustration(ctx context.Context, pass string, il models.Illustration) (State, error) {
	ev := Event{Pass: pass, Kind: ledger.KindIllustration, ID: il.ID, Title: il.Title}

	return s.commitOnce(ctx, ev, func(ctx context.Context) (ledger.Entry, error) {
		if len(il.PageURLs) == 0 {
			return ledger.Entry{}, errors.UpstreamData("illust", fmt.Sprintf("illust %d has no image urls", il.ID))
		}

		ownerDir, err := s.layout.EnsureOwnerFolder(layout.IllustRoot, il.OwnerID, il.OwnerName)
		if err != nil {
			return ledger.Entry{}, err
		}
		dir := ownerDir
		if il.MultiPage() {
			dir = s.layout.WorkFolder(ownerDir, il.Title, il.ID)
			if err := s.layout.EnsureDir(dir); err != nil {
				return ledger.Entry{}, err
			}
		}

		for _, u := range il.PageURLs {
			dest := path.Join(dir, naming.FileName(il.Title, "_"+fileSegment(u)))
			if _, err := s.fetcher.Fetch(ctx, u, dest, fetch.Options{ModTime: il.CreatedAt}); err != nil {
				return ledger.Entry{}, err
			}
		}

		return ledger.Entry{
			Kind:      ledger.KindIllustration,
			ID:        il.ID,
			Title:     il.Title,
			OwnerID:   il.OwnerID,
			WorkType:  il.Type,
			CreatedAt: il.CreatedAt,
		}, nil
	})
}

// SyncNovels mirrors every owner's standalone novels, then every series
// discovered along the way.
func (s *Syncer) SyncNovels(ctx context.Context, owners []models.Owner) Report {
	rep := Report{Pass: "novel"}

	for _, owner := range owners {
		if ctx.Err() != nil {
			rep.Errs = append(rep.Errs, ctx.Err())
			break
		}
		rep.merge(s.syncOwnerNovels(ctx, owner))
	}

	logger.LogPass("novel", rep.Committed, rep.Skipped, rep.Failed, rep.Err())
	return rep
}

func (s *Syncer) syncOwnerNovels(ctx context.Context, owner models.Owner) Report {
	rep := Report{Pass: "novel"}
	name := fmt.Sprintf("novels of user %d", owner.ID)
	walker := pagination.New(s.remote.UserNovels, pixiv.UserNovelsParams(owner.ID), s.walkOptions(name)...)

	seen := make(map[int64]bool)
	var series []models.Series

	b := s.startBatch(ctx, &rep)
	for walker.Next(ctx) {
		for _, raw := range walker.Items() {
			if raw.IsMypixivOnly {
				s.logger.DebugWithFields("Skipping my-pixiv-only novel", map[string]interface{}{
					"novel_id": raw.ID,
				})
				continue
			}

			ownerID, ownerName := ownerOf(raw.User, owner)
			if raw.InSeries() {
				if !seen[raw.Series.ID] {
					seen[raw.Series.ID] = true
					series = append(series, models.Series{
						ID:        raw.Series.ID,
						Title:     raw.Series.Title,
						OwnerID:   ownerID,
						OwnerName: ownerName,
						CoverURL:  pixiv.FullSizeCover(raw.ImageURLs.Large),
					})
				}
				continue
			}

			novel := models.SingleNovel{
				ID:        raw.ID,
				Title:     raw.Title,
				OwnerID:   ownerID,
				OwnerName: ownerName,
				CreatedAt: raw.CreateDate,
			}
			if err := b.submit("novel "+strconv.FormatInt(novel.ID, 10), func(ctx context.Context) (State, error) {
				return s.syncNovel(ctx, novel)
			}); err != nil {
				break
			}
		}
	}
	b.wait()

	if err := walker.Err(); err != nil {
		rep.Errs = append(rep.Errs, err)
	}

	for _, sr := range series {
		if ctx.Err() != nil {
			rep.Errs = append(rep.Errs, ctx.Err())
			break
		}
		rep.merge(s.SyncSeries(ctx, sr))
	}
	return rep
}

func (s *Syncer) syncNovel(ctx context.Context, n models.SingleNovel) (State, error) {
	ev := Event{Pass: "novel", Kind: ledger.KindNovel, ID: n.ID, Title: n.Title}

	return s.commitOnce(ctx, ev, func(ctx context.Context) (ledger.Entry, error) {
		ownerDir, err := s.layout.EnsureOwnerFolder(layout.NovelRoot, n.OwnerID, n.OwnerName)
		if err != nil {
			return ledger.Entry{}, err
		}
		text, err := s.remote.NovelText(ctx, n.ID)
		if err != nil {
			return ledger.Entry{}, err
		}
		if _, err := s.fetcher.WriteText(ownerDir, n.Title, n.ID, text); err != nil {
			return ledger.Entry{}, err
		}
		return ledger.Entry{
			Kind:      ledger.KindNovel,
			ID:        n.ID,
			Title:     n.Title,
			OwnerID:   n.OwnerID,
			CreatedAt: n.CreatedAt,
		}, nil
	})
}

// SyncSeries mirrors the chapters of one series. Chapters are numbered in the
// order they are visited; my-pixiv-only chapters are skipped without taking
// a number.
func (s *Syncer) SyncSeries(ctx context.Context, sr models.Series) Report {
	rep := Report{Pass: "novel"}
	name := fmt.Sprintf("novel series %d", sr.ID)
	walker := pagination.New(s.remote.NovelSeries, pixiv.NovelSeriesParams(sr.ID), s.walkOptions(name)...)

	seq := 0
	b := s.startBatch(ctx, &rep)
	for walker.Next(ctx) {
		for _, raw := range walker.Items() {
			if raw.IsMypixivOnly {
				continue
			}
			seq++
			ch := models.SeriesChapter{
				ID:          raw.ID,
				Title:       raw.Title,
				OwnerID:     sr.OwnerID,
				OwnerName:   sr.OwnerName,
				SeriesID:    sr.ID,
				SeriesTitle: sr.Title,
				CoverURL:    sr.CoverURL,
				Sequence:    seq,
				CreatedAt:   raw.CreateDate,
			}
			if ch.OwnerID == 0 {
				ch.OwnerID, ch.OwnerName = raw.User.ID, raw.User.Name
			}
			if err := b.submit("chapter "+strconv.FormatInt(ch.ID, 10), func(ctx context.Context) (State, error) {
				return s.syncChapter(ctx, ch)
			}); err != nil {
				break
			}
		}
	}
	b.wait()

	if err := walker.Err(); err != nil {
		rep.Errs = append(rep.Errs, err)
	}
	s.logger.DebugWithFields("Series walked", map[string]interface{}{
		"series_id": sr.ID,
		"chapters":  seq,
		"committed": rep.Committed,
	})
	return rep
}

func (s *Syncer) syncChapter(ctx context.Context, ch models.SeriesChapter) (State, error) {
	ev := Event{Pass: "novel", Kind: ledger.KindNovel, ID: ch.ID, Title: ch.Title}

	return s.commitOnce(ctx, ev, func(ctx context.Context) (ledger.Entry, error) {
		ownerDir, err := s.layout.EnsureOwnerFolder(layout.NovelRoot, ch.OwnerID, ch.OwnerName)
		if err != nil {
			return ledger.Entry{}, err
		}
		dir := s.layout.SeriesFolder(ownerDir, ch.SeriesTitle, ch.SeriesID)
		if err := s.layout.EnsureDir(dir); err != nil {
			return ledger.Entry{}, err
		}

		if ch.CoverURL != "" {
			cover := path.Join(dir, naming.FileName(ch.SeriesTitle, ".jpg"))
			if _, err := s.fetcher.Fetch(ctx, ch.CoverURL, cover, fetch.Options{}); err != nil {
				return ledger.Entry{}, fmt.Errorf("series cover: %w", err)
			}
		}

		text, err := s.remote.NovelText(ctx, ch.ID)
		if err != nil {
			return ledger.Entry{}, err
		}
		if _, err := s.fetcher.WriteText(dir, fmt.Sprintf("%d. %s", ch.Sequence, ch.Title), ch.ID, text); err != nil {
			return ledger.Entry{}, err
		}

		return ledger.Entry{
			Kind:        ledger.KindNovel,
			ID:          ch.ID,
			Title:       ch.Title,
			OwnerID:     ch.OwnerID,
			SeriesID:    ch.SeriesID,
			SeriesTitle: ch.SeriesTitle,
			CoverURL:    ch.CoverURL,
			CreatedAt:   ch.CreatedAt,
		}, nil
	})
}

// commitOnce runs the check, materialize and record steps of one item under
// its id lock. materialize must have written every byte before it returns the
// entry to record.
func (s *Syncer) commitOnce(ctx context.Context, ev Event, materialize func(context.Context) (ledger.Entry, error)) (State, error) {
	s.emit(ev, StatePending, nil)

	unlock := s.store.Lock(ev.Kind, ev.ID)
	defer unlock()

	sess, err := s.store.Session(ctx)
	if err != nil {
		return s.fail(ev, err)
	}
	defer sess.Close()

	done, err := sess.Exists(ctx, ev.Kind, ev.ID)
	if err != nil {
		return s.fail(ev, err)
	}
	if done {
		s.emit(ev, StateSkipped, nil)
		return StateSkipped, nil
	}

	s.emit(ev, StateFetching, nil)
	entry, err := materialize(ctx)
	if err != nil {
		return s.fail(ev, err)
	}
	if err := sess.Insert(ctx, entry); err != nil {
		return s.fail(ev, err)
	}

	s.logger.InfoWithFields("Item committed", map[string]interface{}{
		"kind":  string(ev.Kind),
		"id":    ev.ID,
		"title": ev.Title,
	})
	s.emit(ev, StateCommitted, nil)
	return StateCommitted, nil
}

func (s *Syncer) fail(ev Event, err error) (State, error) {
	err = fmt.Errorf("%s %d: %w", ev.Kind, ev.ID, err)
	s.logger.WithError(err).WarnWithFields("Item failed", map[string]interface{}{
		"kind":  string(ev.Kind),
		"id":    ev.ID,
		"title": ev.Title,
		"type":  string(errors.TypeOf(err)),
	})
	s.emit(ev, StateFailed, err)
	return StateFailed, err
}

func (s *Syncer) emit(ev Event, state State, err error) {
	if s.opts.Observer == nil {
		return
	}
	ev.State = state
	ev.Err = err
	s.opts.Observer(ev)
}

func (s *Syncer) warn(err error) {
	s.warnings.Add(1)
	s.emit(Event{}, StateWarning, err)
}

func (s *Syncer) walkOptions(name string) []pagination.Option {
	return []pagination.Option{
		pagination.WithLimiter(s.pages),
		pagination.WithObserver(s.warn),
		pagination.WithLogger(s.logger),
		pagination.WithName(name),
	}
}

// batch runs the items of one walk on a worker pool and tallies the outcomes
// into a Report.
type batch struct {
	pool *downloader.WorkerPool[State]
	done chan struct{}
}

func (s *Syncer) startBatch(ctx context.Context, rep *Report) *batch {
	b := &batch{
		pool: downloader.NewWorkerPool[State](ctx, s.opts.Concurrency, s.logger),
		done: make(chan struct{}),
	}
	b.pool.Start()
	go func() {
		defer close(b.done)
		for res := range b.pool.Results() {
			if res.Err != nil {
				rep.count(StateFailed)
				continue
			}
			rep.count(res.Value)
		}
	}()
	return b
}

func (b *batch) submit(key string, run func(ctx context.Context) (State, error)) error {
	return b.pool.Submit(downloader.Job[State]{Key: key, Run: run})
}

func (b *batch) wait() {
	b.pool.Stop()
	<-b.done
}

func ownerOf(u pixiv.User, fallback models.Owner) (int64, string) {
	id, name := u.ID, u.Name
	if id == 0 {
		id = fallback.ID
	}
	if name == "" {
		name = fallback.Name
	}
	return id, name
}

// fileSegment is the last path segment of a page URL, e.g. "12345_p0.png".
func fileSegment(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}
