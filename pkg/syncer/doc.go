// Package syncer mirrors the works of pixiv creators onto local storage.
//
// A sync is a set of passes (illustrations, manga, novels). Each pass walks
// the owners' collections page by page, turns every raw record into a domain
// record and hands it to a bounded worker pool. An item is processed under a
// per-id ledger lock:
//
//	pending -> skipped            ledger already has the id
//	pending -> fetching -> committed
//	pending -> fetching -> failed
//
// The ledger row is written only after every file of the item is on disk, so
// an interrupted run converges on the next one. Item failures are counted and
// reported through Events; they never stop the walk. A failed page request
// ends that owner's walk and is recorded in the pass Report.
//
// Usage:
//
//	s := syncer.New(client, store, layout.NewManager(fs, log), fetch.New(fs, fetchCfg, log), syncer.Options{
//		Concurrency: 1,
//		PageDelay:   pagination.DefaultDelay,
//	}, log)
//	report := s.Run(ctx, syncer.Plan{UserID: me, Illust: true, Novel: true})
package syncer
