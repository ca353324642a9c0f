package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_sessions_started_total",
			Help: "Total number of automation sessions started",
		},
		[]string{"platform"},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_sessions_completed_total",
			Help: "Total number of automation sessions finished",
		},
		[]string{"platform", "status"},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedpilot_session_duration_seconds",
			Help:    "Automation session duration in seconds",
			Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200},
		},
		[]string{"platform"},
	)

	// Item metrics
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_items_processed_total",
			Help: "Total number of feed items evaluated",
		},
		[]string{"platform"},
	)

	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_items_skipped_total",
			Help: "Total number of feed items skipped, by reason",
		},
		[]string{"platform", "reason"},
	)

	WatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedpilot_item_watch_duration_seconds",
			Help:    "Simulated watch time per item in seconds",
			Buckets: []float64{1, 3, 5, 10, 15, 30, 60},
		},
		[]string{"platform"},
	)

	// Engagement metrics
	CommentsPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_comments_posted_total",
			Help: "Total number of comments posted",
		},
		[]string{"platform"},
	)

	CommentsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_comments_failed_total",
			Help: "Total number of comment submissions that failed",
		},
		[]string{"platform"},
	)

	LikesPerformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_likes_performed_total",
			Help: "Total number of like actions performed",
		},
		[]string{"platform"},
	)

	// Matching metrics
	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_rule_matches_total",
			Help: "Total number of rule group matches, by group kind",
		},
		[]string{"platform", "kind"},
	)

	ClassifierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_classifier_calls_total",
			Help: "Total number of AI classifier calls, by outcome",
		},
		[]string{"outcome"},
	)

	// Feed cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_feed_cache_hits_total",
			Help: "Total number of feed cache lookups that found the item",
		},
		[]string{"platform"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpilot_feed_cache_misses_total",
			Help: "Total number of feed cache lookups that missed",
		},
		[]string{"platform"},
	)
)
