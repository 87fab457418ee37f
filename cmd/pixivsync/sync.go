package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"pixivsync/pkg/auth"
	"pixivsync/pkg/config"
	"pixivsync/pkg/fetch"
	"pixivsync/pkg/layout"
	"pixivsync/pkg/ledger"
	"pixivsync/pkg/logger"
	"pixivsync/pkg/models"
	"pixivsync/pkg/pixiv"
	"pixivsync/pkg/ratelimit"
	"pixivsync/pkg/retry"
	"pixivsync/pkg/storage"
	"pixivsync/pkg/syncer"
	"pixivsync/pkg/ui"
)

var (
	// Sync command flags
	outputDir    string
	ledgerPath   string
	accountName  string
	refreshToken string
	userID       int64
	concurrent   int
	workTypes    []string
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync [user-id...]",
	Short: "Mirror the works of followed users",
	Long: `Mirror the works of every user you follow, or only of the given user ids.

Works already recorded in the ledger are skipped without any network access.
A failed work is logged and retried on the next run; it never stops the others.

Credentials are taken from, in order:
  - --refresh-token or PIXIVSYNC_REFRESH_TOKEN
  - pixiv.refresh_token in the config file
  - the stored account named by --account or pixiv.account
  - the first stored account`,
	Example: `  # Sync everything enabled in the config
  pixivsync sync

  # Only novels of two users, four items at a time
  pixivsync sync 11 4242 --types novel --concurrent 4

  # Use another save path and ledger
  pixivsync sync -o ./mirror --ledger ./mirror/pixiv.db`,
	Args: func(cmd *cobra.Command, args []string) error {
		for _, a := range args {
			if _, err := strconv.ParseInt(a, 10, 64); err != nil {
				return fmt.Errorf("invalid user id %q", a)
			}
		}
		return nil
	},
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&outputDir, "output", "o", "", "save path for followed users (overrides follow.save_path)")
	syncCmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger database path")
	syncCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored account")
	syncCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "pixiv refresh token (prefer 'pixivsync auth login')")
	syncCmd.Flags().Int64Var(&userID, "user-id", 0, "whose follow list to walk (default: the logged in account)")
	syncCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of works processed at once (1-10)")
	syncCmd.Flags().StringSliceVar(&workTypes, "types", nil, "work types to sync: illust, manga, novel")
}

func runSync(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"refresh-token": refreshToken,
		"account":       accountName,
		"user-id":       userID,
		"output":        outputDir,
		"ledger":        ledgerPath,
		"concurrent":    concurrent,
		"types":         workTypes,
	}
	// The progress line owns the terminal unless asked otherwise
	if !verbose && logLevel == "" && logFile == "" {
		flags["log-level"] = "warn"
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	if cfg.Favorite.Enabled {
		log.Warn("favorite sync is not supported yet, skipping")
		ui.PrintWarning("Skipping favorites", "not supported yet")
	}
	if cfg.Ranking.Enabled {
		log.Warn("ranking sync is not supported yet, skipping")
		ui.PrintWarning("Skipping ranking", "not supported yet")
	}
	if !cfg.Follow.Enabled && len(args) == 0 {
		ui.PrintWarning("Nothing to do", "follow sync is disabled")
		return nil
	}

	creds, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential store unavailable")
		creds = nil
	}
	account, err := resolveAccount(cfg, creds)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newPixivClient(cfg, account.RefreshToken, log)
	user, err := client.Login(ctx)
	if err != nil {
		return fmt.Errorf("login failed (run 'pixivsync auth login' to store a fresh token): %w", err)
	}
	ui.PrintInfo("Logged in as", user.Name)
	defer persistToken(creds, account, client)

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter, err := ratelimit.New(cfg.RateLimit.Strategy, cfg.RateLimit.RequestsPerMinute)
	if err != nil {
		return err
	}

	fs := storage.NewOS(cfg.Follow.SavePath, cfg.Download.ChunkSize)
	fetcher := fetch.New(fs, fetch.Config{
		UserAgent: cfg.Pixiv.UserAgent,
		Timeout:   cfg.Download.DownloadTimeout,
		Limiter:   limiter,
	}, log)

	display := ui.NewProgressDisplay(os.Stdout, verbose)
	s := syncer.New(client, store, layout.NewManager(fs, log), fetcher, syncer.Options{
		Concurrency: cfg.Download.ConcurrentDownloads,
		PageDelay:   cfg.Pagination.Delay,
		Observer:    progressObserver(display),
	}, log)

	plan := syncer.Plan{
		UserID: cfg.Pixiv.UserID,
		Illust: cfg.Follow.Type.Illust,
		Manga:  cfg.Follow.Type.Manga,
		Novel:  cfg.Follow.Type.Novel,
	}
	if plan.UserID == 0 {
		plan.UserID = client.UserID()
	}
	for _, a := range args {
		id, _ := strconv.ParseInt(a, 10, 64)
		plan.Owners = append(plan.Owners, models.Owner{ID: id})
	}

	logger.LogComponentStart("sync", map[string]interface{}{
		"save_path":   cfg.Follow.SavePath,
		"ledger":      store.Path(),
		"concurrency": cfg.Download.ConcurrentDownloads,
		"user_id":     plan.UserID,
	})

	rr := s.Run(ctx, plan)
	display.Complete()

	for _, p := range rr.Passes {
		if err := p.Err(); err != nil {
			ui.PrintError("Pass "+p.Pass+" ended early", err)
		}
	}

	switch {
	case rr.Err != nil:
		logger.LogComponentStop("sync", rr.Err.Error())
		return fmt.Errorf("sync incomplete: %w", rr.Err)
	case rr.Failed() > 0:
		logger.LogComponentStop("sync", "finished with failures")
		return fmt.Errorf("%d works failed, rerun to retry them", rr.Failed())
	}

	logger.LogComponentStop("sync", "finished")
	if rr.Clean() {
		ui.PrintSuccess(fmt.Sprintf("Synced %d owners", rr.Owners))
	}
	return nil
}

// resolveAccount picks the refresh token for this run. An explicit token is
// wrapped in an unsaved account.
func resolveAccount(cfg *config.Config, creds *auth.Manager) (*auth.Account, error) {
	if cfg.Pixiv.RefreshToken != "" {
		return &auth.Account{RefreshToken: cfg.Pixiv.RefreshToken, UserID: cfg.Pixiv.UserID}, nil
	}
	if creds == nil {
		return nil, fmt.Errorf("no refresh token configured: %w", auth.ErrCredentialsNotFound)
	}

	if cfg.Pixiv.Account != "" {
		if account, err := creds.Retrieve(cfg.Pixiv.Account); err == nil {
			return account, nil
		}
	}
	account, err := creds.RetrieveDefault()
	if err != nil {
		return nil, fmt.Errorf("no pixiv credentials found, run 'pixivsync auth login': %w", err)
	}
	return account, nil
}

// persistToken stores the rotated refresh token of a stored account.
func persistToken(creds *auth.Manager, account *auth.Account, client *pixiv.Client) {
	if creds == nil || account.Name == "" {
		return
	}
	token := client.RefreshToken()
	uid := client.UserID()
	if token == "" || (token == account.RefreshToken && uid == account.UserID) {
		return
	}

	updated := *account
	updated.RefreshToken = token
	if uid != 0 {
		updated.UserID = uid
	}
	if err := creds.Store(&updated); err != nil {
		logger.GetLogger().WithError(err).Warn("Failed to save the rotated refresh token")
	}
}

func newPixivClient(cfg *config.Config, token string, log logger.Logger) *pixiv.Client {
	pc := pixiv.Config{
		RefreshToken: token,
		UserAgent:    cfg.Pixiv.UserAgent,
		Timeout:      cfg.Download.DownloadTimeout,
		MaxAttempts:  1,
	}
	if cfg.Retry.Enabled {
		pc.MaxAttempts = cfg.Retry.MaxAttempts
		pc.Backoff = &retry.ExponentialBackoff{
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		}
	}
	return pixiv.NewClient(pc, log)
}

// progressObserver feeds sync events into the display. Events arrive from
// worker goroutines.
func progressObserver(display *ui.ProgressDisplay) func(syncer.Event) {
	var (
		mu   sync.Mutex
		pass string
	)
	return func(ev syncer.Event) {
		if ev.State == syncer.StateWarning {
			display.Warning(ev.Err)
			return
		}

		mu.Lock()
		if ev.Pass != pass {
			pass = ev.Pass
			display.StartPass(pass)
		}
		mu.Unlock()

		label := fmt.Sprintf("%s %d %s", ev.Kind, ev.ID, ev.Title)
		switch ev.State {
		case syncer.StateFetching:
			display.Fetching(label)
		case syncer.StateCommitted:
			display.Committed(label)
		case syncer.StateSkipped:
			display.Skipped(label)
		case syncer.StateFailed:
			display.Failed(label, ev.Err)
		}
	}
}
