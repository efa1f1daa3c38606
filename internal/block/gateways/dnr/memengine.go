package dnr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
	"github.com/AdguardTeam/urlfilter/rules"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/sitewall/internal/block/common/log"
)

// Verdict is the outcome of matching one navigation URL against the
// installed ruleset.
type Verdict struct {
	RuleID      int
	RedirectURL string
	// Blocked is true when the redirect target is the built-in blocked page
	// rather than a user-chosen URL.
	Blocked bool
}

// Recorder receives match outcomes, typically to feed statistics.
type Recorder interface {
	RecordBlock(url string)
	RecordRedirect(fromURL, toURL string)
}

// MemEngine is the in-process Engine implementation. Installed rules are
// indexed with an adblock-syntax network engine so Match answers in the
// same way the browser ruleset would; verdicts are cached in an LRU that is
// purged on every ruleset change.
type MemEngine struct {
	mu             sync.Mutex
	installed      map[int]Rule
	index          *urlfilter.NetworkEngine
	storage        *filterlist.RuleStorage
	cache          *lru.Cache[string, cachedVerdict]
	blockedPageURL string
	recorder       Recorder
	logger         log.Logger
}

type cachedVerdict struct {
	verdict Verdict
	matched bool
}

// NewMemEngine constructs an empty engine. blockedPageURL is the default
// redirect target compiled rules point at; it is used to classify verdicts
// as blocks versus redirects.
func NewMemEngine(blockedPageURL string, cacheSize int, logger log.Logger) (*MemEngine, error) {
	cache, err := lru.New[string, cachedVerdict](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("verdict cache: %w", err)
	}
	return &MemEngine{
		installed:      make(map[int]Rule),
		cache:          cache,
		blockedPageURL: blockedPageURL,
		logger:         logger,
	}, nil
}

// SetRecorder wires a statistics sink. Pass nil to disable recording.
func (m *MemEngine) SetRecorder(r Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// DynamicRules returns the installed rules sorted by id.
func (m *MemEngine) DynamicRules(_ context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Rule, 0, len(m.installed))
	for _, r := range m.installed {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateDynamicRules applies one batched mutation: removals first, then
// additions. The batch is atomic; on any error the installed set and the
// match index are left as they were.
func (m *MemEngine) UpdateDynamicRules(_ context.Context, opts UpdateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[int]Rule, len(m.installed)+len(opts.AddRules))
	for id, r := range m.installed {
		next[id] = r
	}
	for _, id := range opts.RemoveRuleIDs {
		delete(next, id)
	}
	for _, r := range opts.AddRules {
		if r.ID <= 0 {
			return fmt.Errorf("rule id must be positive, got %d", r.ID)
		}
		if _, dup := next[r.ID]; dup {
			return fmt.Errorf("rule id %d is already installed", r.ID)
		}
		next[r.ID] = r
	}

	index, storage, err := buildIndex(next)
	if err != nil {
		return fmt.Errorf("rebuilding match index: %w", err)
	}

	if m.storage != nil {
		_ = m.storage.Close()
	}
	m.installed = next
	m.index = index
	m.storage = storage
	m.cache.Purge()

	m.logger.Debug(map[string]any{
		"installed": len(m.installed),
		"added":     len(opts.AddRules),
		"removed":   len(opts.RemoveRuleIDs),
	}, "dynamic ruleset updated")
	return nil
}

// Match evaluates one navigation URL against the installed ruleset. The
// second return is false when no rule applies.
func (m *MemEngine) Match(rawURL string) (Verdict, bool) {
	m.mu.Lock()
	if cached, ok := m.cache.Get(rawURL); ok {
		m.mu.Unlock()
		return cached.verdict, cached.matched
	}

	var verdict Verdict
	matched := false
	if m.index != nil {
		req := rules.NewRequest(rawURL, "", rules.TypeDocument)
		if nr, ok := m.index.Match(req); ok && nr != nil && !nr.Whitelist {
			id := int(nr.GetFilterListID())
			if installed, ok := m.installed[id]; ok {
				target := ""
				if installed.Action.Redirect != nil {
					target = installed.Action.Redirect.URL
				}
				verdict = Verdict{
					RuleID:      id,
					RedirectURL: target,
					Blocked:     target == m.blockedPageURL,
				}
				matched = true
			}
		}
	}
	m.cache.Add(rawURL, cachedVerdict{verdict: verdict, matched: matched})
	recorder := m.recorder
	m.mu.Unlock()

	if matched && recorder != nil {
		if verdict.Blocked {
			recorder.RecordBlock(rawURL)
		} else {
			recorder.RecordRedirect(rawURL, verdict.RedirectURL)
		}
	}
	return verdict, matched
}

// Close releases the match index resources.
func (m *MemEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage != nil {
		err := m.storage.Close()
		m.storage = nil
		m.index = nil
		return err
	}
	return nil
}

// buildIndex compiles the installed set into an adblock network engine.
// Each rule becomes its own one-line filter list whose list id is the rule
// id, so a match maps straight back to the installed rule.
func buildIndex(installed map[int]Rule) (*urlfilter.NetworkEngine, *filterlist.RuleStorage, error) {
	ids := make([]int, 0, len(installed))
	for id := range installed {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	lists := make([]filterlist.Interface, 0, len(ids))
	for _, id := range ids {
		lists = append(lists, filterlist.NewString(&filterlist.StringConfig{
			ID:             rules.ListID(id),
			RulesText:      strings.TrimSpace(installed[id].Condition.URLFilter),
			IgnoreCosmetic: true,
		}))
	}

	storage, err := filterlist.NewRuleStorage(lists)
	if err != nil {
		return nil, nil, err
	}
	return urlfilter.NewNetworkEngine(storage), storage, nil
}
