package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Calibration constants.
const (
	recordRingSize     = 1000
	dueCheckEvery      = 100 // routing decisions between due checks
	minGroupExamples   = 3
	maxPatternsPerTier = 3
	learnedConfidence  = 0.8
	wordFreqThreshold  = 0.6 // word must appear in this share of group samples
	evictSuccessFloor  = 0.3
	evictGracePeriod   = 7 * 24 * time.Hour
)

// classificationRecord pairs what the client layer said with what the LLM
// layer said for the same message.
type classificationRecord struct {
	Content    string    `json:"content"`
	ClientTier Tier      `json:"client_tier"`
	LLMTier    Tier      `json:"llm_tier,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Analytics is the persisted calibration summary.
type Analytics struct {
	LastRun         time.Time `json:"last_run"`
	Records         int       `json:"records"`
	Comparable      int       `json:"comparable"`
	Accuracy        float64   `json:"accuracy"`
	PatternsAdded   int       `json:"patterns_added"`
	PatternsEvicted int       `json:"patterns_evicted"`
}

// Calibrator learns routing patterns from observed LLM classifications.
type Calibrator struct {
	mu      sync.Mutex
	records []classificationRecord // ring, newest appended
	ticks   int                    // decisions since last due check

	patterns      *PatternSet
	analyticsPath string
	interval      time.Duration
	minRecords    int
	backup        bool
	lastRun       time.Time
}

func NewCalibrator(patterns *PatternSet, analyticsPath string, interval time.Duration, minRecords int, backup bool) *Calibrator {
	if interval <= 0 {
		interval = time.Hour
	}
	if minRecords <= 0 {
		minRecords = 50
	}
	return &Calibrator{
		patterns:      patterns,
		analyticsPath: analyticsPath,
		interval:      interval,
		minRecords:    minRecords,
		backup:        backup,
		lastRun:       time.Now(),
	}
}

// Record stores one classification outcome in the bounded ring.
func (c *Calibrator) Record(content string, clientTier, llmTier Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, classificationRecord{
		Content:    content,
		ClientTier: clientTier,
		LLMTier:    llmTier,
		Timestamp:  time.Now(),
	})
	if len(c.records) > recordRingSize {
		c.records = c.records[len(c.records)-recordRingSize:]
	}
}

// Tick is called once per routing decision; every dueCheckEvery ticks it
// checks whether calibration is due and runs it inline. The throttle keeps
// per-message overhead flat.
func (c *Calibrator) Tick() {
	c.mu.Lock()
	c.ticks++
	due := false
	if c.ticks >= dueCheckEvery {
		c.ticks = 0
		due = time.Since(c.lastRun) >= c.interval || c.comparableLocked() >= c.minRecords
	}
	c.mu.Unlock()

	if due {
		if err := c.Run(); err != nil {
			slog.Error("router: calibration failed", "error", err)
		}
	}
}

func (c *Calibrator) comparableLocked() int {
	n := 0
	for _, r := range c.records {
		if r.LLMTier != "" {
			n++
		}
	}
	return n
}

// Run executes one calibration pass: accuracy, pattern extraction from
// mismatches, stale-pattern eviction, backup-then-write, analytics.
func (c *Calibrator) Run() error {
	c.mu.Lock()
	records := make([]classificationRecord, len(c.records))
	copy(records, c.records)
	c.lastRun = time.Now()
	c.records = nil
	c.mu.Unlock()

	comparable := 0
	matches := 0
	mismatchesByTier := make(map[Tier][]classificationRecord)
	for _, r := range records {
		if r.LLMTier == "" {
			continue
		}
		comparable++
		if r.ClientTier == r.LLMTier {
			matches++
		} else {
			mismatchesByTier[r.LLMTier] = append(mismatchesByTier[r.LLMTier], r)
		}
	}

	accuracy := 0.0
	if comparable > 0 {
		accuracy = float64(matches) / float64(comparable)
	}

	newPatterns := extractPatterns(mismatchesByTier)

	kept, evicted := c.evict(c.patterns.All())
	for _, p := range newPatterns {
		kept = append(kept, p)
	}
	if err := c.patterns.Replace(kept, c.backup); err != nil {
		return err
	}

	slog.Info("router: calibration complete",
		"comparable", comparable, "accuracy", fmt.Sprintf("%.2f", accuracy),
		"patterns_added", len(newPatterns), "patterns_evicted", evicted)

	return c.saveAnalytics(Analytics{
		LastRun:         time.Now(),
		Records:         len(records),
		Comparable:      comparable,
		Accuracy:        accuracy,
		PatternsAdded:   len(newPatterns),
		PatternsEvicted: evicted,
	})
}

// evict drops patterns with a poor success rate once past the grace
// period.
func (c *Calibrator) evict(patterns []Pattern) ([]*Pattern, int) {
	var kept []*Pattern
	evicted := 0
	for i := range patterns {
		p := patterns[i]
		if p.Matches > 0 && p.SuccessRate < evictSuccessFloor &&
			time.Since(p.CreatedAt) > evictGracePeriod {
			evicted++
			continue
		}
		kept = append(kept, &p)
	}
	return kept, evicted
}

// extractPatterns finds words common to a mismatch group and turns them
// into regex patterns. A word qualifies when longer than 3 characters and
// present in at least wordFreqThreshold of the group's samples; strict
// set intersection proved too brittle for diverse mismatches.
func extractPatterns(groups map[Tier][]classificationRecord) []*Pattern {
	var out []*Pattern
	now := time.Now()

	tiers := make([]Tier, 0, len(groups))
	for t := range groups {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	for _, tier := range tiers {
		samples := groups[tier]
		if len(samples) < minGroupExamples {
			continue
		}

		freq := make(map[string]int)
		for _, r := range samples {
			seen := make(map[string]bool)
			for _, w := range strings.Fields(strings.ToLower(r.Content)) {
				w = strings.Trim(w, ".,!?;:'\"()")
				if len(w) <= 3 || seen[w] {
					continue
				}
				seen[w] = true
				freq[w]++
			}
		}

		threshold := int(float64(len(samples)) * wordFreqThreshold)
		if threshold < minGroupExamples {
			threshold = minGroupExamples
		}
		var common []string
		for w, n := range freq {
			if n >= threshold {
				common = append(common, w)
			}
		}
		sort.Slice(common, func(i, j int) bool {
			if freq[common[i]] != freq[common[j]] {
				return freq[common[i]] > freq[common[j]]
			}
			return common[i] < common[j]
		})

		for i, w := range common {
			if i >= maxPatternsPerTier {
				break
			}
			out = append(out, &Pattern{
				Name:       fmt.Sprintf("learned_%s_%s_%d", tier, w, now.Unix()),
				Tier:       string(tier),
				Regex:      `\b` + regexp.QuoteMeta(w) + `\b`,
				Confidence: learnedConfidence,
				CreatedAt:  now,
			})
		}
	}
	return out
}

func (c *Calibrator) saveAnalytics(a Analytics) error {
	if c.analyticsPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("router: marshal analytics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.analyticsPath), 0o755); err != nil {
		return fmt.Errorf("router: analytics dir: %w", err)
	}
	tmp := c.analyticsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("router: write analytics: %w", err)
	}
	return os.Rename(tmp, c.analyticsPath)
}
