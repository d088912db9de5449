// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package lifecycle

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// usageWindow is how far back invocations count toward popularity.
const usageWindow = 24 * time.Hour

// recentWindow is the slice of the usage window weighted double in the
// popularity score.
const recentWindow = 1 * time.Hour

// UsageHistory records per-model invocation timestamps and the manager's
// cumulative counters. Backed by SQLite so popularity and counters survive
// restarts; with an empty path it runs purely in memory.
type UsageHistory struct {
	mu     sync.Mutex
	db     *sql.DB
	usage  map[string][]time.Time
	counts map[string]float64
}

// NewUsageHistory opens (or creates) the history database at dbPath. An
// empty path yields an in-memory history with no persistence.
func NewUsageHistory(dbPath string) (*UsageHistory, error) {
	h := &UsageHistory{
		usage:  map[string][]time.Time{},
		counts: map[string]float64{},
	}
	if dbPath == "" {
		return h, nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage history: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS model_usage (
			model TEXT NOT NULL,
			used_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_model_usage_time ON model_usage(used_at);
		CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value REAL NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize usage history schema: %w", err)
	}

	h.db = db
	if err := h.warm(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// warm loads the rolling window and counters from disk into memory.
func (h *UsageHistory) warm() error {
	cutoff := time.Now().Add(-usageWindow).Unix()
	rows, err := h.db.Query("SELECT model, used_at FROM model_usage WHERE used_at >= ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to read usage window: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		var at int64
		if err := rows.Scan(&model, &at); err != nil {
			return fmt.Errorf("failed to scan usage row: %w", err)
		}
		h.usage[model] = append(h.usage[model], time.Unix(at, 0))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	crows, err := h.db.Query("SELECT name, value FROM counters")
	if err != nil {
		return fmt.Errorf("failed to read counters: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var name string
		var value float64
		if err := crows.Scan(&name, &value); err != nil {
			return fmt.Errorf("failed to scan counter row: %w", err)
		}
		h.counts[name] = value
	}
	return crows.Err()
}

// RecordUse appends one invocation timestamp for model.
func (h *UsageHistory) RecordUse(model string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.usage[model] = append(h.usage[model], at)
	if h.db != nil {
		_, _ = h.db.Exec("INSERT INTO model_usage (model, used_at) VALUES (?, ?)", model, at.Unix())
	}
}

// AddCounter increments a cumulative counter by delta.
func (h *UsageHistory) AddCounter(name string, delta float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counts[name] += delta
	if h.db != nil {
		_, _ = h.db.Exec(`INSERT INTO counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = value + ?`, name, delta, delta)
	}
}

// Counter returns the current value of a cumulative counter.
func (h *UsageHistory) Counter(name string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[name]
}

// Counters returns a copy of all cumulative counters.
func (h *UsageHistory) Counters() map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]float64, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

// Popular returns the top-n models by popularity score within the rolling
// window: recent invocations count double on top of the window total. Ties
// break on ascending model name for determinism.
func (h *UsageHistory) Popular(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-usageWindow)
	recentStart := now.Add(-recentWindow)

	type scored struct {
		model string
		score float64
	}
	var ranked []scored
	for model, times := range h.usage {
		total, recent := 0, 0
		for _, at := range times {
			if at.Before(windowStart) {
				continue
			}
			total++
			if at.After(recentStart) {
				recent++
			}
		}
		if total == 0 {
			continue
		}
		ranked = append(ranked, scored{model: model, score: float64(2*recent + total)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].model < ranked[j].model
	})

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, s := range ranked[:n] {
		out = append(out, s.model)
	}
	return out
}

// Prune drops in-memory and on-disk invocations older than the rolling
// window. Returns how many in-memory entries were removed.
func (h *UsageHistory) Prune() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-usageWindow)
	removed := 0
	for model, times := range h.usage {
		kept := times[:0]
		for _, at := range times {
			if at.After(cutoff) {
				kept = append(kept, at)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(h.usage, model)
		} else {
			h.usage[model] = kept
		}
	}
	if h.db != nil {
		_, _ = h.db.Exec("DELETE FROM model_usage WHERE used_at < ?", cutoff.Unix())
	}
	return removed
}

// Close releases the underlying database, if any.
func (h *UsageHistory) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}
