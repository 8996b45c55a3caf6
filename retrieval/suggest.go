package retrieval

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/flexigpt/skillregistry-go/spec"
)

// SuggestionSignal is an outcome observed for a suggested slice/skill,
// fed back into the bandit's per-project weight learning.
type SuggestionSignal int

const (
	SignalNeutral SuggestionSignal = iota
	SignalSuccess
	SignalFailure
)

// SignalWeights are the static or bandit-learned weights of the
// suggestion scoring components, per spec.md §4.5. Suggest adds
// TagMatch and TriggerKeyword boosts to result scores; Freshness and
// PriorReinforce are adjusted by the Bandit but not applied to any score.
type SignalWeights struct {
	TagMatch       float64
	TriggerKeyword float64
	Freshness      float64
	PriorReinforce float64
}

func DefaultSignalWeights() SignalWeights {
	return SignalWeights{TagMatch: 1.0, TriggerKeyword: 1.0, Freshness: 0.5, PriorReinforce: 0.75}
}

// Bandit is an epsilon-greedy contextual bandit over SignalWeights arms,
// one arm set per project (keyed by repo root). Disableable for
// deterministic reproducibility tests per spec.md §4.5 ("the bandit
// state is a side input that MAY be disabled").
type Bandit struct {
	mu      sync.Mutex
	epsilon float64
	enabled bool
	arms    map[string]*armState
}

type armState struct {
	weights SignalWeights
	pulls   int
	reward  float64
}

func NewBandit(epsilon float64, enabled bool) *Bandit {
	return &Bandit{epsilon: epsilon, enabled: enabled, arms: map[string]*armState{}}
}

// WeightsFor returns the current weights for a project, defaulting to
// DefaultSignalWeights when disabled or unseen.
func (b *Bandit) WeightsFor(repoRoot string) SignalWeights {
	if !b.enabled {
		return DefaultSignalWeights()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.arms[repoRoot]
	if !ok {
		return DefaultSignalWeights()
	}
	if rand.Float64() < b.epsilon {
		return perturb(a.weights)
	}
	return a.weights
}

// Observe records an outcome signal and nudges all of the project's
// weights together: up on success, down on failure (TagMatch and
// TriggerKeyword by a full step, Freshness and PriorReinforce by half).
func (b *Bandit) Observe(repoRoot string, w SignalWeights, sig SuggestionSignal) {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.arms[repoRoot]
	if !ok {
		a = &armState{weights: w}
		b.arms[repoRoot] = a
	}
	var r float64
	switch sig {
	case SignalSuccess:
		r = 1
	case SignalFailure:
		r = -1
	}
	a.pulls++
	a.reward += r
	step := r * 0.05
	a.weights.TagMatch = clamp01(a.weights.TagMatch + step)
	a.weights.TriggerKeyword = clamp01(a.weights.TriggerKeyword + step)
	a.weights.Freshness = clamp01(a.weights.Freshness + step/2)
	a.weights.PriorReinforce = clamp01(a.weights.PriorReinforce + step/2)
}

func perturb(w SignalWeights) SignalWeights {
	jitter := func(v float64) float64 { return clamp01(v + (rand.Float64()-0.5)*0.2) }
	return SignalWeights{
		TagMatch:       jitter(w.TagMatch),
		TriggerKeyword: jitter(w.TriggerKeyword),
		Freshness:      jitter(w.Freshness),
		PriorReinforce: jitter(w.PriorReinforce),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

// CooldownTracker suppresses suggestion results that overlap a recent
// fingerprint's results within a cooldown window, per spec.md §4.5.
type CooldownTracker struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]cooldownEntry // fingerprint key -> entry
}

type cooldownEntry struct {
	at      time.Time
	ids     map[string]bool
}

func NewCooldownTracker(window time.Duration) *CooldownTracker {
	return &CooldownTracker{window: window, lastSeen: map[string]cooldownEntry{}}
}

func fingerprintKey(fp spec.ContextFingerprint) string {
	return fp.RepoRoot + "|" + fp.VCSHead + "|" + fp.FileSetDigest
}

// Suppress filters results that overlap a recent fingerprint's result
// set within the cooldown window, unless force is set. It always
// records the (possibly filtered) result set as the new "recent" set.
func (c *CooldownTracker) Suppress(fp spec.ContextFingerprint, results []Result, force bool, now time.Time) []Result {
	key := fingerprintKey(fp)
	c.mu.Lock()
	prev, ok := c.lastSeen[key]
	c.mu.Unlock()

	out := results
	if ok && !force && now.Sub(prev.at) < c.window {
		out = make([]Result, 0, len(results))
		for _, r := range results {
			if !prev.ids[r.ID] {
				out = append(out, r)
			}
		}
	}

	ids := map[string]bool{}
	for _, r := range out {
		ids[r.ID] = true
	}
	c.mu.Lock()
	c.lastSeen[key] = cooldownEntry{at: now, ids: ids}
	c.mu.Unlock()

	return out
}
