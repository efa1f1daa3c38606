// Package statstore keeps block/redirect counters in local-only storage,
// separate from the synced rule state. Counters are best-effort: recording
// never fails a caller, and unreadable state falls back to zeroed defaults.
package statstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/sitewall/internal/block/common/clock"
	"github.com/haukened/sitewall/internal/block/common/log"
)

var (
	bucketLocal   = []byte("local")
	keyStatistics = []byte("statistics")
)

const dateLayout = "2006-01-02"

// Statistics is the persisted counter set. Daily counters reset when
// LastResetDate falls behind the current date.
type Statistics struct {
	TotalBlocked   int    `json:"totalBlocked"`
	BlockedToday   int    `json:"blockedToday"`
	TotalRedirects int    `json:"totalRedirects"`
	RedirectsToday int    `json:"redirectsToday"`
	LastResetDate  string `json:"lastResetDate"`
	CreatedDate    string `json:"createdDate"`
}

// Bolt persists Statistics in the "local" bucket of a bbolt database.
// It implements the rule engine's Recorder hook.
type Bolt struct {
	mu     sync.Mutex
	db     *bbolt.DB
	clk    clock.Clock
	logger log.Logger
}

// NewBolt wraps an open database and ensures the local bucket exists.
func NewBolt(db *bbolt.DB, clk clock.Clock, logger log.Logger) (*Bolt, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLocal)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Bolt{db: db, clk: clk, logger: logger}, nil
}

// Snapshot returns current counters, applying the daily reset if the stored
// date is stale. Read failures fall back to defaults rather than erroring;
// failing open on a read-only path is acceptable here.
func (b *Bolt) Snapshot(ctx context.Context) Statistics {
	if ctx.Err() != nil {
		return b.defaults()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked()
}

// RecordBlock bumps the blocked counters for one intercepted navigation.
func (b *Bolt) RecordBlock(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.loadLocked()
	stats.TotalBlocked++
	stats.BlockedToday++
	b.saveLocked(stats)

	b.logger.Debug(map[string]any{
		"url":   url,
		"total": stats.TotalBlocked,
		"today": stats.BlockedToday,
	}, "block recorded")
}

// RecordRedirect bumps the redirect counters for one rerouted navigation.
func (b *Bolt) RecordRedirect(fromURL, toURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.loadLocked()
	stats.TotalRedirects++
	stats.RedirectsToday++
	b.saveLocked(stats)

	b.logger.Debug(map[string]any{
		"from":  fromURL,
		"to":    toURL,
		"total": stats.TotalRedirects,
	}, "redirect recorded")
}

func (b *Bolt) defaults() Statistics {
	today := b.clk.Now().Format(dateLayout)
	return Statistics{
		LastResetDate: today,
		CreatedDate:   b.clk.Now().Format(time.RFC3339),
	}
}

// loadLocked reads counters and applies the daily reset. Callers hold b.mu.
func (b *Bolt) loadLocked() Statistics {
	stats := b.defaults()
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketLocal).Get(keyStatistics)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &stats)
	})
	if err != nil {
		b.logger.Warn(map[string]any{"error": err}, "statistics unreadable, using defaults")
		return b.defaults()
	}

	today := b.clk.Now().Format(dateLayout)
	if stats.LastResetDate != today {
		stats.BlockedToday = 0
		stats.RedirectsToday = 0
		stats.LastResetDate = today
		b.saveLocked(stats)
	}
	return stats
}

// saveLocked writes counters back; failures are logged and dropped since
// counters are advisory. Callers hold b.mu.
func (b *Bolt) saveLocked(stats Statistics) {
	raw, err := json.Marshal(stats)
	if err != nil {
		b.logger.Warn(map[string]any{"error": err}, "statistics encode failed")
		return
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLocal).Put(keyStatistics, raw)
	})
	if err != nil {
		b.logger.Warn(map[string]any{"error": err}, "statistics write failed")
	}
}
