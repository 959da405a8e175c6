package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	syncdomain "mailsync-backend/internal/sync/domain"
	"mailsync-backend/internal/sync/repository"
	"mailsync-backend/internal/sync/scheduler"
	"mailsync-backend/pkg/cache"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/realtime"
	"mailsync-backend/pkg/secrets"
)

const renewalTask = "watch-renewal"

func fallbackTask(userID string) string {
	return "fallback:" + userID
}

// syncUsecase implements SyncUsecase interface
type syncUsecase struct {
	repo      repository.WatchRegistrationRepository
	provider  syncdomain.MailProvider
	differ    *HistoryDiffer
	cache     InvalidationCache
	publisher Publisher
	box       *secrets.Box
	sched     *scheduler.Scheduler
	config    *config.Config
}

// NewSyncUsecase creates a new instance of syncUsecase
func NewSyncUsecase(
	repo repository.WatchRegistrationRepository,
	provider syncdomain.MailProvider,
	cacheStore InvalidationCache,
	publisher Publisher,
	box *secrets.Box,
	sched *scheduler.Scheduler,
	cfg *config.Config,
) SyncUsecase {
	return &syncUsecase{
		repo:      repo,
		provider:  provider,
		differ:    NewHistoryDiffer(provider),
		cache:     cacheStore,
		publisher: publisher,
		box:       box,
		sched:     sched,
		config:    cfg,
	}
}

func (u *syncUsecase) StartSync(ctx context.Context, userID, emailAddress string, creds *syncdomain.Credentials) error {
	if creds == nil || (creds.AccessToken == "" && creds.RefreshToken == "") {
		return fmt.Errorf("%w: no tokens provided", syncdomain.ErrCredential)
	}

	// A fresh start supersedes any prior watch for this user.
	if existing, err := u.repo.FindByUserID(userID); err == nil && existing != nil {
		u.cancelRemoteWatch(ctx, existing)
		u.sched.Cancel(fallbackTask(userID))
	}

	watchCtx, cancel := context.WithTimeout(ctx, u.config.ProviderTimeout)
	defer cancel()
	info, err := u.provider.SetupWatch(watchCtx, creds)
	if err != nil {
		return err
	}

	sealed, err := u.sealCredentials(creds)
	if err != nil {
		return err
	}

	reg := &syncdomain.WatchRegistration{
		UserID:       userID,
		EmailAddress: emailAddress,
		Provider:     u.provider.Name(),
		Credentials:  sealed,
		HistoryID:    info.HistoryID,
		ExpiresAt:    info.Expiration,
		LastSyncAt:   time.Now(),
	}
	if err := u.repo.Upsert(reg); err != nil {
		return fmt.Errorf("failed to store watch registration: %v", err)
	}

	// Seed the stats entry so clients see counts before the first change.
	if counts, err := u.fetchCounts(ctx, creds); err != nil {
		log.Printf("[Sync] initial count fetch failed for user %s: %v", userID, err)
	} else {
		u.storeAndBroadcastCounts(ctx, reg, counts)
	}

	u.publisher.Publish(userID, realtime.EventSyncStarted, map[string]interface{}{
		"emailAddress": emailAddress,
	})

	u.scheduleFallback(userID)
	log.Printf("[Sync] watch active for user %s (%s), expires %s",
		userID, emailAddress, info.Expiration.Format(time.RFC3339))
	return nil
}

// StopSync is best-effort on the remote side: only a local delete failure
// surfaces as an error.
func (u *syncUsecase) StopSync(ctx context.Context, userID string) error {
	reg, err := u.repo.FindByUserID(userID)
	if err != nil {
		return err
	}
	if reg == nil {
		return syncdomain.ErrSyncNotActive
	}

	u.cancelRemoteWatch(ctx, reg)
	u.sched.Cancel(fallbackTask(userID))

	if err := u.repo.Delete(userID); err != nil {
		return fmt.Errorf("failed to remove watch registration: %v", err)
	}

	u.publisher.Publish(userID, realtime.EventSyncStopped, map[string]interface{}{})
	log.Printf("[Sync] watch stopped for user %s", userID)
	return nil
}

func (u *syncUsecase) Status(ctx context.Context, userID string) (*SyncStatus, error) {
	reg, err := u.repo.FindByUserID(userID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return &SyncStatus{}, nil
	}
	return &SyncStatus{
		Active:      true,
		LastSync:    reg.LastSyncAt,
		WatchExpiry: reg.ExpiresAt,
	}, nil
}

func (u *syncUsecase) ForceSync(ctx context.Context, userID string) error {
	reg, err := u.repo.FindByUserID(userID)
	if err != nil {
		return err
	}
	if reg == nil {
		return syncdomain.ErrSyncNotActive
	}
	return u.refreshCounts(ctx, reg)
}

func (u *syncUsecase) ProcessNotification(ctx context.Context, emailAddress string, historyID uint64) error {
	reg, err := u.repo.FindByEmail(emailAddress)
	if err != nil {
		return err
	}
	if reg == nil {
		// No credentials for this mailbox; acknowledge and drop.
		log.Printf("[Sync] dropping notification for unknown mailbox %s", emailAddress)
		return nil
	}

	if historyID != 0 && historyID <= reg.HistoryID {
		// Duplicate delivery; already processed up to this position.
		return nil
	}

	creds, err := u.unsealCredentials(reg)
	if err != nil {
		return err
	}

	diffCtx, cancel := context.WithTimeout(ctx, u.config.ProviderTimeout)
	defer cancel()
	events, newMarker, err := u.differ.DiffSince(diffCtx, creds, reg.HistoryID)
	if err != nil {
		if errors.Is(err, syncdomain.ErrMarkerTooOld) {
			return u.fullResync(ctx, reg, creds)
		}
		return err
	}

	// Fast path: read-state flips reach clients before any cache work.
	for _, event := range events {
		if event.HasReadState() {
			u.publisher.Publish(reg.UserID, realtime.EventEmailStatusUpdatedImmediate, immediateFields(event))
		}
	}

	// The marker only moves forward, and only after a successful diff.
	if newMarker > reg.HistoryID {
		if _, err := u.repo.UpdateMarkerIfGreater(reg.UserID, newMarker); err != nil {
			return err
		}
	}

	if len(events) > 0 {
		u.invalidateForEvents(ctx, reg, events)
	}

	if counts, err := u.fetchCounts(ctx, creds); err != nil {
		log.Printf("[Sync] count refresh failed for user %s: %v", reg.UserID, err)
	} else {
		u.storeAndBroadcastCounts(ctx, reg, counts)
	}

	for _, event := range events {
		if event.HasReadState() {
			u.publisher.Publish(reg.UserID, realtime.EventEmailStatusUpdated, statusFields(event))
		} else {
			u.publisher.Publish(reg.UserID, realtime.EventEmailUpdated, emailUpdatedFields(event))
		}
	}

	if err := u.repo.TouchLastSync(reg.UserID); err != nil {
		log.Printf("[Sync] failed to record sync time for user %s: %v", reg.UserID, err)
	}
	return nil
}

// fullResync recovers a mailbox whose marker aged out of the provider's
// history log: drop the user's cache, rebase the marker to the current
// position, and reseed counts. Changes between the two positions are
// unknowable; clients refetch.
func (u *syncUsecase) fullResync(ctx context.Context, reg *syncdomain.WatchRegistration, creds *syncdomain.Credentials) error {
	log.Printf("[Sync] marker too old for user %s, running full resync", reg.UserID)

	u.cache.InvalidateUser(ctx, reg.Provider, reg.UserID)

	markerCtx, cancel := context.WithTimeout(ctx, u.config.ProviderTimeout)
	defer cancel()
	marker, err := u.provider.CurrentMarker(markerCtx, creds)
	if err != nil {
		return err
	}
	if _, err := u.repo.UpdateMarkerIfGreater(reg.UserID, marker); err != nil {
		return err
	}

	if counts, err := u.fetchCounts(ctx, creds); err != nil {
		log.Printf("[Sync] count reseed failed for user %s: %v", reg.UserID, err)
	} else {
		u.storeAndBroadcastCounts(ctx, reg, counts)
	}

	u.publisher.Publish(reg.UserID, realtime.EventEmailUpdated, map[string]interface{}{
		"reason": "resync",
	})

	if err := u.repo.TouchLastSync(reg.UserID); err != nil {
		log.Printf("[Sync] failed to record sync time for user %s: %v", reg.UserID, err)
	}
	return nil
}

func (u *syncUsecase) ResumeAll(ctx context.Context) error {
	regs, err := u.repo.FindAll()
	if err != nil {
		return err
	}
	for i := range regs {
		u.scheduleFallback(regs[i].UserID)
	}
	if len(regs) > 0 {
		log.Printf("[Sync] resumed fallback polling for %d registration(s)", len(regs))
	}
	return nil
}

func (u *syncUsecase) StartRenewalLoop() {
	u.sched.Schedule(renewalTask, u.config.RenewalCheckInterval, true, u.renewExpiring)
}

func (u *syncUsecase) renewExpiring() {
	regs, err := u.repo.FindExpiring(time.Now().Add(u.config.RenewalThreshold))
	if err != nil {
		log.Printf("[Sync] renewal scan failed: %v", err)
		return
	}
	if len(regs) == 0 {
		return
	}

	log.Printf("[Sync] renewing %d watch(es) expiring within %s", len(regs), u.config.RenewalThreshold)
	for i := range regs {
		u.renewOne(&regs[i])
	}
}

func (u *syncUsecase) renewOne(reg *syncdomain.WatchRegistration) {
	creds, err := u.unsealCredentials(reg)
	if err != nil {
		log.Printf("[Sync] renewal skipped for user %s: %v", reg.UserID, err)
		u.publisher.Publish(reg.UserID, realtime.EventWatchRenewalFailed, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), u.config.ProviderTimeout)
	defer cancel()
	info, err := u.provider.SetupWatch(ctx, creds)
	if err != nil {
		// Registration stays for the next tick; fallback polling covers the gap.
		log.Printf("[Sync] watch renewal failed for user %s: %v", reg.UserID, err)
		u.publisher.Publish(reg.UserID, realtime.EventWatchRenewalFailed, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	// Only the expiry moves on renewal; the marker stays at the last
	// processed position so no history is skipped.
	if err := u.repo.UpdateExpiry(reg.UserID, info.Expiration); err != nil {
		log.Printf("[Sync] failed to store renewed expiry for user %s: %v", reg.UserID, err)
		return
	}

	log.Printf("[Sync] watch renewed for user %s, expires %s", reg.UserID, info.Expiration.Format(time.RFC3339))
	u.publisher.Publish(reg.UserID, realtime.EventWatchRenewed, map[string]interface{}{
		"expiresAt": info.Expiration,
	})
}

func (u *syncUsecase) scheduleFallback(userID string) {
	u.sched.Schedule(fallbackTask(userID), u.config.FallbackPollInterval, false, func() {
		u.fallbackTick(userID)
	})
}

func (u *syncUsecase) fallbackTick(userID string) {
	reg, err := u.repo.FindByUserID(userID)
	if err != nil {
		log.Printf("[Sync] fallback lookup failed for user %s: %v", userID, err)
		return
	}
	if reg == nil {
		u.sched.Cancel(fallbackTask(userID))
		return
	}
	if err := u.refreshCounts(context.Background(), reg); err != nil {
		log.Printf("[Sync] fallback poll failed for user %s: %v", userID, err)
	}
}

// refreshCounts is one fallback pass: re-derive counts, invalidate listings
// if they drifted, refresh the stats entry, broadcast.
func (u *syncUsecase) refreshCounts(ctx context.Context, reg *syncdomain.WatchRegistration) error {
	creds, err := u.unsealCredentials(reg)
	if err != nil {
		return err
	}
	counts, err := u.fetchCounts(ctx, creds)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	statsKey := cache.StatsKey(reg.Provider, reg.UserID)
	if cached, ok := u.cache.Get(ctx, statsKey); ok && !bytes.Equal(cached, encoded) {
		// Counts drifted without a processed notification; listings are stale.
		u.cache.InvalidateOnAction(ctx, reg.Provider, reg.UserID, cache.ActionReceive, nil)
	}
	u.storeAndBroadcastCounts(ctx, reg, counts)

	if err := u.repo.TouchLastSync(reg.UserID); err != nil {
		log.Printf("[Sync] failed to record sync time for user %s: %v", reg.UserID, err)
	}
	return nil
}

func (u *syncUsecase) fetchCounts(ctx context.Context, creds *syncdomain.Credentials) (*syncdomain.MailboxCounts, error) {
	countCtx, cancel := context.WithTimeout(ctx, u.config.ProviderTimeout)
	defer cancel()
	return u.provider.GetCounts(countCtx, creds)
}

func (u *syncUsecase) storeAndBroadcastCounts(ctx context.Context, reg *syncdomain.WatchRegistration, counts *syncdomain.MailboxCounts) {
	if encoded, err := json.Marshal(counts); err == nil {
		u.cache.Set(ctx, cache.StatsKey(reg.Provider, reg.UserID), encoded, u.config.CacheStatsTTL)
	}
	u.publisher.Publish(reg.UserID, realtime.EventUnreadCountUpdated, map[string]interface{}{
		"unread": counts.Unread,
		"total":  counts.Total,
	})
}

// invalidateForEvents maps a processed batch to its invalidation set.
// Membership changes widen the action so search results go too.
func (u *syncUsecase) invalidateForEvents(ctx context.Context, reg *syncdomain.WatchRegistration, events []syncdomain.ChangeEvent) {
	membership := false
	threadIDs := make([]string, 0, len(events))
	seen := make(map[string]bool)

	for _, event := range events {
		if event.Kind == syncdomain.ChangeMessageAdded || event.Kind == syncdomain.ChangeMessageRemoved {
			membership = true
		}
		if event.ThreadID != "" && !seen[event.ThreadID] {
			seen[event.ThreadID] = true
			threadIDs = append(threadIDs, event.ThreadID)
		}
	}

	action := cache.ActionMarkRead
	if membership {
		action = cache.ActionReceive
	}
	u.cache.InvalidateOnAction(ctx, reg.Provider, reg.UserID, action, threadIDs)
}

func (u *syncUsecase) cancelRemoteWatch(ctx context.Context, reg *syncdomain.WatchRegistration) {
	creds, err := u.unsealCredentials(reg)
	if err != nil {
		log.Printf("[Sync] cannot unseal credentials for user %s: %v", reg.UserID, err)
		return
	}
	cancelCtx, cancel := context.WithTimeout(ctx, u.config.ProviderTimeout)
	defer cancel()
	if err := u.provider.CancelWatch(cancelCtx, creds); err != nil {
		log.Printf("[Sync] remote watch cancel failed for user %s: %v", reg.UserID, err)
	}
}

func (u *syncUsecase) sealCredentials(creds *syncdomain.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %v", err)
	}
	sealed, err := u.box.Seal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to seal credentials: %v", err)
	}
	return sealed, nil
}

// unsealCredentials opens the stored blob and arms OnRefresh so transparent
// token refreshes are persisted back under the same seal.
func (u *syncUsecase) unsealCredentials(reg *syncdomain.WatchRegistration) (*syncdomain.Credentials, error) {
	plain, err := u.box.Open(reg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: unseal: %v", syncdomain.ErrCredential, err)
	}
	var creds syncdomain.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", syncdomain.ErrCredential, err)
	}

	userID := reg.UserID
	refreshToken := creds.RefreshToken
	creds.OnRefresh = func(accessToken string, expiry time.Time) {
		refreshed := syncdomain.Credentials{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			Expiry:       expiry,
		}
		sealed, err := u.sealCredentials(&refreshed)
		if err != nil {
			log.Printf("[Sync] failed to reseal refreshed credentials for user %s: %v", userID, err)
			return
		}
		if err := u.repo.UpdateCredentials(userID, sealed); err != nil {
			log.Printf("[Sync] failed to persist refreshed credentials for user %s: %v", userID, err)
		}
	}
	return &creds, nil
}

func immediateFields(event syncdomain.ChangeEvent) map[string]interface{} {
	fields := map[string]interface{}{
		"messageId":  event.MessageID,
		"isRead":     event.IsRead,
		"changeType": event.ChangeType,
	}
	if event.Subject != "" {
		fields["subject"] = event.Subject
	}
	if event.From != "" {
		fields["from"] = event.From
	}
	return fields
}

func statusFields(event syncdomain.ChangeEvent) map[string]interface{} {
	return map[string]interface{}{
		"messageId":  event.MessageID,
		"isRead":     event.IsRead,
		"changeType": event.ChangeType,
	}
}

func emailUpdatedFields(event syncdomain.ChangeEvent) map[string]interface{} {
	fields := map[string]interface{}{
		"kind":      string(event.Kind),
		"messageId": event.MessageID,
	}
	if event.ThreadID != "" {
		fields["threadId"] = event.ThreadID
	}
	if event.Subject != "" {
		fields["subject"] = event.Subject
	}
	if event.From != "" {
		fields["from"] = event.From
	}
	return fields
}
