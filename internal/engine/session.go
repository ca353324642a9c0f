// Package engine runs automation sessions: one browser-driven loop per
// session that walks the feed, matches rules and performs engagement
// actions, with history and progress emission along the way.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/activity"
	"github.com/feedpilot/feedpilot/internal/feed"
	"github.com/feedpilot/feedpilot/internal/history"
	"github.com/feedpilot/feedpilot/internal/metrics"
	"github.com/feedpilot/feedpilot/internal/pacing"
	"github.com/feedpilot/feedpilot/internal/rules"
	"github.com/feedpilot/feedpilot/internal/settings"
	"github.com/feedpilot/feedpilot/internal/streaming"
)

// SeenStore remembers item ids commented in past sessions.
type SeenStore interface {
	AddCommentedID(ctx context.Context, itemID string) error
	HasCommentedID(ctx context.Context, itemID string) (bool, error)
}

// Config assembles one session's collaborators and policy.
type Config struct {
	Platform Platform
	Settings settings.Settings
	Matcher  *rules.Matcher
	Pacer    *pacing.Pacer
	Limiter  *pacing.CommentLimiter
	Recorder history.Recorder
	Events   *streaming.Manager
	Seen     SeenStore
	Logger   *zap.Logger

	// LikeProbability defaults to 0.2.
	LikeProbability float64
	// EmptyFeedWait is the pause before retrying when no item is
	// available. Defaults to 2s.
	EmptyFeedWait time.Duration
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	ID           string         `json:"id"`
	Platform     string         `json:"platform"`
	State        history.Status `json:"state"`
	CommentCount int            `json:"commentCount"`
	StartedAt    time.Time      `json:"startedAt"`
	Error        string         `json:"error,omitempty"`
}

// Session is one automation run. Create with NewSession, drive with Run,
// interrupt with Stop.
type Session struct {
	id     string
	cfg    Config
	logger *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}

	mu        sync.Mutex
	state     history.Status
	commented int
	startedAt time.Time
	lastErr   string
	recordID  string

	// items already handled this run, including skips, so a looping
	// feed never reprocesses an item within one session
	handled map[string]bool

	// watch time spent on the item currently being processed
	watched time.Duration
}

// NewSession validates the config and builds a session.
func NewSession(cfg Config) (*Session, error) {
	switch {
	case cfg.Platform == nil:
		return nil, &ConfigError{Field: "Platform", Reason: "is required"}
	case cfg.Matcher == nil:
		return nil, &ConfigError{Field: "Matcher", Reason: "is required"}
	case cfg.Recorder == nil:
		return nil, &ConfigError{Field: "Recorder", Reason: "is required"}
	case cfg.Events == nil:
		return nil, &ConfigError{Field: "Events", Reason: "is required"}
	case cfg.Settings.MaxCount <= 0:
		return nil, &ConfigError{Field: "Settings.MaxCount", Reason: "must be positive"}
	}
	if cfg.Pacer == nil {
		cfg.Pacer = pacing.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.LikeProbability == 0 {
		cfg.LikeProbability = 0.2
	}
	if cfg.EmptyFeedWait <= 0 {
		cfg.EmptyFeedWait = 2 * time.Second
	}
	id := uuid.New().String()
	return &Session{
		id:      id,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("session_id", id), zap.String("platform", cfg.Platform.Name())),
		stopCh:  make(chan struct{}),
		state:   history.StatusRunning,
		handled: make(map[string]bool),
	}, nil
}

// ID returns the session id, also used as the event stream key.
func (s *Session) ID() string { return s.id }

// Stop requests a graceful stop. Honored at the top of the next loop
// iteration; an in-flight submission completes or fails on its own.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Status returns a snapshot of the session's progress.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:           s.id,
		Platform:     s.cfg.Platform.Name(),
		State:        s.state,
		CommentCount: s.commented,
		StartedAt:    s.startedAt,
		Error:        s.lastErr,
	}
}

// Run executes the session to completion. It blocks until the comment
// target is reached, Stop is called, or a fatal error occurs.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	platform := s.cfg.Platform.Name()
	metrics.SessionsStarted.WithLabelValues(platform).Inc()

	snapshot, err := json.Marshal(s.cfg.Settings)
	if err != nil {
		snapshot = []byte(`{}`)
	}
	rec, err := s.cfg.Recorder.CreateRecord(ctx, platform, snapshot)
	if err != nil {
		s.setState(history.StatusError, err.Error())
		return err
	}
	s.mu.Lock()
	s.recordID = rec.ID
	s.mu.Unlock()

	s.publish(streaming.TypeTaskStarted, "", "")
	runErr := s.runLoop(ctx)
	s.finish(rec.ID, runErr)
	return runErr
}

func (s *Session) runLoop(ctx context.Context) error {
	if err := s.cfg.Platform.Launch(ctx); err != nil {
		return &LaunchError{Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.commentCount() >= s.cfg.Settings.MaxCount {
			return nil
		}

		item, ok, err := s.cfg.Platform.NextItem(ctx)
		if err != nil {
			if isSessionFatal(err) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn("Failed to obtain current item", zap.Error(err))
			if err := s.waitAndAdvance(ctx); err != nil {
				return err
			}
			continue
		}
		if !ok {
			if err := s.waitAndAdvance(ctx); err != nil {
				return err
			}
			continue
		}

		metrics.ItemsProcessed.WithLabelValues(s.cfg.Platform.Name()).Inc()
		if err := s.processItem(ctx, item); err != nil {
			if isSessionFatal(err) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn("Item processing failed, advancing",
				zap.String("item_id", item.ID), zap.Error(err))
		}

		if s.commentCount() >= s.cfg.Settings.MaxCount {
			return nil
		}
		if err := s.cfg.Platform.Advance(ctx); err != nil {
			if isSessionFatal(err) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn("Advance failed", zap.Error(err))
		}
	}
}

// processItem runs one item through the full filter, match and engagement
// pipeline. A nil return means the item was handled, whether commented or
// skipped.
func (s *Session) processItem(ctx context.Context, item feed.ContentItem) error {
	platform := s.cfg.Platform.Name()

	s.mu.Lock()
	dup := s.handled[item.ID]
	s.handled[item.ID] = true
	s.watched = 0
	s.mu.Unlock()
	if dup {
		return nil
	}

	if s.cfg.Seen != nil {
		seen, err := s.cfg.Seen.HasCommentedID(ctx, item.ID)
		if err != nil {
			s.logger.Warn("Seen-store lookup failed", zap.Error(err))
		} else if seen {
			return s.skip(ctx, item, SkipAlreadyCommented, "commented in a previous session")
		}
	}
	if kw := firstContained(item.Description, s.cfg.Settings.BlockKeywords); kw != "" {
		return s.skip(ctx, item, SkipBlockedKeyword, kw)
	}
	if kw := firstContained(item.AuthorName, s.cfg.Settings.AuthorBlockKeywords); kw != "" {
		return s.skip(ctx, item, SkipBlockedAuthor, kw)
	}
	if ok, reason := s.cfg.Platform.Eligible(item); !ok {
		return s.skip(ctx, item, SkipIneligible, reason)
	}

	group := s.cfg.Matcher.Match(ctx, s.cfg.Settings.RuleGroups, item)
	if group == nil {
		return s.skip(ctx, item, SkipNoRuleMatch, "no matching rule")
	}
	metrics.RuleMatches.WithLabelValues(platform, string(group.Kind)).Inc()
	s.publish(streaming.TypeItemMatched, item.ID, group.Name)

	if opener, ok := s.cfg.Platform.(ItemOpener); ok {
		if err := opener.OpenItem(ctx, item); err != nil {
			if isSessionFatal(err) {
				return err
			}
			return s.skip(ctx, item, SkipItemError, "open item: "+err.Error())
		}
	}

	if s.cfg.Settings.SimulateWatchBeforeComment {
		watch := s.cfg.Pacer.Duration(
			time.Duration(s.cfg.Settings.WatchTimeRangeSeconds[0])*time.Second,
			time.Duration(s.cfg.Settings.WatchTimeRangeSeconds[1])*time.Second,
		)
		metrics.WatchDuration.WithLabelValues(platform).Observe(watch.Seconds())
		if err := s.cfg.Pacer.SleepRange(ctx, watch, watch); err != nil {
			return err
		}
		s.mu.Lock()
		s.watched = watch
		s.mu.Unlock()
	}

	if s.cfg.Pacer.Chance(s.cfg.LikeProbability) {
		if err := s.cfg.Platform.Like(ctx, item); err != nil {
			s.logger.Warn("Like failed", zap.String("item_id", item.ID), zap.Error(err))
		} else {
			metrics.LikesPerformed.WithLabelValues(platform).Inc()
			s.publish(streaming.TypeLikePerformed, item.ID, "")
		}
	}

	if err := s.cfg.Platform.OpenComments(ctx, item); err != nil {
		if isSessionFatal(err) {
			return err
		}
		return s.skip(ctx, item, SkipItemError, "open comments: "+err.Error())
	}

	if s.cfg.Settings.OnlyCommentActiveVideo {
		comments, err := s.cfg.Platform.FetchComments(ctx, item)
		if err != nil {
			s.closeComments(ctx)
			return s.skip(ctx, item, SkipInactive, "comment data unavailable")
		}
		if res := activity.Evaluate(comments, time.Now()); !res.Active {
			s.closeComments(ctx)
			return s.skip(ctx, item, SkipInactive, res.Reason)
		}
	}

	text, err := pickCommentText(s.cfg.Pacer, group)
	if err != nil {
		s.closeComments(ctx)
		return s.skip(ctx, item, SkipNoCommentText, err.Error())
	}
	images, err := pickCommentImages(s.cfg.Pacer, group.CommentImage)
	if err != nil {
		s.logger.Warn("Comment image unavailable, posting text only", zap.Error(err))
		images = nil
	}

	if s.cfg.Limiter != nil {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			s.closeComments(ctx)
			return err
		}
	}

	if err := s.cfg.Platform.PostComment(ctx, item, text, images); err != nil {
		if isSessionFatal(err) {
			return err
		}
		metrics.CommentsFailed.WithLabelValues(platform).Inc()
		s.closeComments(ctx)
		return s.skip(ctx, item, SkipCommentFailed, err.Error())
	}

	metrics.CommentsPosted.WithLabelValues(platform).Inc()
	s.mu.Lock()
	s.commented++
	s.mu.Unlock()
	if s.cfg.Seen != nil {
		if err := s.cfg.Seen.AddCommentedID(ctx, item.ID); err != nil {
			s.logger.Warn("Failed to persist commented id", zap.Error(err))
		}
	}
	s.record(ctx, item, history.ActionCommented, text, group.Name)
	s.publish(streaming.TypeCommentPosted, item.ID, text)
	s.closeComments(ctx)
	return nil
}

func (s *Session) skip(ctx context.Context, item feed.ContentItem, reason, detail string) error {
	metrics.ItemsSkipped.WithLabelValues(s.cfg.Platform.Name(), reason).Inc()
	d := reason
	if detail != "" {
		d = reason + ": " + detail
	}
	s.record(ctx, item, history.ActionSkipped, d, "")
	s.publish(streaming.TypeItemSkipped, item.ID, d)
	return nil
}

func (s *Session) record(ctx context.Context, item feed.ContentItem, action history.Action, detail, groupName string) {
	s.mu.Lock()
	recID := s.recordID
	watched := s.watched
	s.mu.Unlock()
	err := s.cfg.Recorder.AppendVideoRecord(ctx, recID, history.VideoRecord{
		ItemID:       item.ID,
		AuthorName:   item.AuthorName,
		Description:  item.Description,
		Tags:         item.Tags,
		WatchMS:      watched.Milliseconds(),
		Action:       action,
		Detail:       detail,
		MatchedGroup: groupName,
	})
	if err != nil {
		s.logger.Warn("Failed to append video record", zap.Error(err))
	}
}

func (s *Session) closeComments(ctx context.Context) {
	if err := s.cfg.Platform.CloseComments(ctx); err != nil {
		s.logger.Debug("Close comments failed", zap.Error(err))
	}
}

func (s *Session) waitAndAdvance(ctx context.Context) error {
	if err := s.cfg.Pacer.SleepRange(ctx, s.cfg.EmptyFeedWait, s.cfg.EmptyFeedWait); err != nil {
		return err
	}
	if err := s.cfg.Platform.Advance(ctx); err != nil && isSessionFatal(err) {
		return err
	}
	return ctx.Err()
}

// finish tears the platform down, finalizes the history record and emits
// the terminal event. Runs on a detached context so a cancelled session
// still persists its state.
func (s *Session) finish(recordID string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.cfg.Platform.Teardown(ctx); err != nil {
		s.logger.Warn("Session teardown failed", zap.Error(err))
	}

	status, msg := history.StatusCompleted, ""
	switch {
	case errors.Is(runErr, context.Canceled):
		status = history.StatusStopped
	case runErr != nil:
		status, msg = history.StatusError, runErr.Error()
	}
	if err := s.cfg.Recorder.Finalize(ctx, recordID, status, msg); err != nil {
		s.logger.Error("Failed to finalize task record", zap.Error(err))
	}
	s.setState(status, msg)

	platform := s.cfg.Platform.Name()
	metrics.SessionsCompleted.WithLabelValues(platform, string(status)).Inc()
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	metrics.SessionDuration.WithLabelValues(platform).Observe(time.Since(started).Seconds())

	switch status {
	case history.StatusError:
		s.publish(streaming.TypeTaskError, "", msg)
	default:
		s.publish(streaming.TypeTaskCompleted, "", string(status))
	}
	s.logger.Info("Session finished",
		zap.String("status", string(status)),
		zap.Int("comments", s.commentCount()))
}

func (s *Session) publish(eventType, itemID, message string) {
	s.cfg.Events.Publish(s.id, streaming.Event{
		Type:    eventType,
		ItemID:  itemID,
		Message: message,
	})
}

func (s *Session) commentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commented
}

func (s *Session) setState(st history.Status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.lastErr = errMsg
}
