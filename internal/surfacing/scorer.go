// Package surfacing decides whether a discovered pattern is worth raising in
// a live conversation.
//
// Each pattern gets a relevance score in [0, 100] built from five signals.
// A pattern is surfaced only when the score clears its type's threshold,
// the type's trigger condition holds and the pattern was not surfaced
// within the type's frequency limit.
package surfacing

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/grouping"
	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/insight"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
)

// Signal weights. They sum to 1.
const (
	SemanticWeight   = 0.30
	TemporalWeight   = 0.30
	ContextualWeight = 0.25
	RecencyWeight    = 0.10
	ImpactWeight     = 0.05
)

// RecentWindow is how far back Context.RecentEvents should reach.
const RecentWindow = 24 * time.Hour

const (
	freshPatternAge = 7 * 24 * time.Hour
	stalePatternAge = 90 * 24 * time.Hour
	// neutral is used for signals a pattern type cannot express.
	neutral = 50.0
)

// DefaultThresholds are the minimum relevance scores per pattern type.
var DefaultThresholds = map[detection.PatternType]float64{
	detection.PatternTemporalCorrelation: 65,
	detection.PatternMultifactor:         70,
	detection.PatternBehavioralSequence:  60,
	detection.PatternCyclical:            60,
	detection.PatternSemanticCluster:     70,
}

// DefaultFrequencyLimits are the minimum gaps between two surfacings of the
// same pattern.
var DefaultFrequencyLimits = map[detection.PatternType]time.Duration{
	detection.PatternTemporalCorrelation: 3 * 24 * time.Hour,
	detection.PatternMultifactor:         7 * 24 * time.Hour,
	detection.PatternBehavioralSequence:  2 * 24 * time.Hour,
	detection.PatternCyclical:            7 * 24 * time.Hour,
	detection.PatternSemanticCluster:     24 * time.Hour,
}

// symptomKeywords mark a message as being about how the user feels.
var symptomKeywords = []string{
	"headache", "migraine", "tired", "fatigue", "exhausted", "nausea",
	"nauseous", "bloat", "cramp", "pain", "sick", "dizzy", "insomnia",
	"anxious", "stomach", "sore", "ache",
}

var questionCues = []string{"why", "how come"}

// Context is the conversational situation a pattern is scored against.
type Context struct {
	// Message is the user's latest message.
	Message string
	// RecentEvents are the user's events from the last RecentWindow.
	RecentEvents []health.Event
	// Now is the moment of the conversation turn.
	Now time.Time
	// Location is the user's timezone, used for day-of-week checks. Nil
	// means UTC.
	Location *time.Location
}

// Breakdown holds the individual signals, each in [0, 100].
type Breakdown struct {
	Semantic   float64 `json:"semantic"`
	Temporal   float64 `json:"temporal"`
	Contextual float64 `json:"contextual"`
	Recency    float64 `json:"recency"`
	Impact     float64 `json:"impact"`
}

// Decision is the outcome of scoring one pattern.
type Decision struct {
	PatternID string                `json:"pattern_id"`
	Type      detection.PatternType `json:"pattern_type"`
	Insight   string                `json:"actionable_insight"`
	Score     float64               `json:"score"`
	Threshold float64               `json:"threshold"`
	Breakdown Breakdown             `json:"breakdown"`
	Surface   bool                  `json:"surface"`
	// Reason explains a negative decision.
	Reason string `json:"reason,omitempty"`
}

// Rejection reasons.
const (
	ReasonBelowThreshold = "below relevance threshold"
	ReasonNoTrigger      = "trigger condition not met"
	ReasonTooRecent      = "surfaced too recently"
	ReasonInactive       = "pattern is archived"
)

// Scorer computes surfacing decisions. It is stateless and safe for
// concurrent use.
type Scorer struct {
	thresholds map[detection.PatternType]float64
	limits     map[detection.PatternType]time.Duration
	logger     *zap.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithThreshold overrides the threshold for one pattern type.
func WithThreshold(t detection.PatternType, minScore float64) Option {
	return func(s *Scorer) {
		s.thresholds[t] = minScore
	}
}

// WithFrequencyLimit overrides the frequency limit for one pattern type.
func WithFrequencyLimit(t detection.PatternType, d time.Duration) Option {
	return func(s *Scorer) {
		s.limits[t] = d
	}
}

// NewScorer creates a scorer with the default thresholds and limits.
func NewScorer(logger *zap.Logger, opts ...Option) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scorer{
		thresholds: make(map[detection.PatternType]float64, len(DefaultThresholds)),
		limits:     make(map[detection.PatternType]time.Duration, len(DefaultFrequencyLimits)),
		logger:     logger,
	}
	for k, v := range DefaultThresholds {
		s.thresholds[k] = v
	}
	for k, v := range DefaultFrequencyLimits {
		s.limits[k] = v
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score evaluates one pattern against the context.
func (s *Scorer) Score(p *lifecycle.DiscoveredPattern, c Context) Decision {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	msg := normalizeMessage(c.Message)
	recent := health.Chronological(health.Between(c.RecentEvents, c.Now.Add(-RecentWindow), c.Now))

	b := Breakdown{
		Semantic:   semanticScore(p.Rule, msg),
		Temporal:   temporalScore(p.Rule, recent, c.Now, loc),
		Contextual: contextualScore(p.Rule, recent),
		Recency:    recencyScore(p, c.Now),
		Impact:     clamp(p.ImpactScore, 0, 100),
	}
	score := SemanticWeight*b.Semantic +
		TemporalWeight*b.Temporal +
		ContextualWeight*b.Contextual +
		RecencyWeight*b.Recency +
		ImpactWeight*b.Impact
	score = math.Round(clamp(score, 0, 100)*10) / 10

	d := Decision{
		PatternID: p.ID,
		Type:      p.Type,
		Insight:   p.ActionableInsight,
		Score:     score,
		Threshold: s.thresholds[p.Type],
		Breakdown: b,
	}

	switch {
	case !p.Active():
		d.Reason = ReasonInactive
	case score < d.Threshold:
		d.Reason = ReasonBelowThreshold
	case !triggered(p.Rule, msg, recent, c.Now, loc):
		d.Reason = ReasonNoTrigger
	case s.tooRecent(p, c.Now):
		d.Reason = ReasonTooRecent
	default:
		d.Surface = true
	}

	s.logger.Debug("scored pattern for surfacing",
		zap.String("pattern_id", p.ID),
		zap.Float64("score", score),
		zap.Bool("surface", d.Surface),
		zap.String("reason", d.Reason))
	return d
}

// Best scores every pattern and returns the highest-scoring one that may
// be surfaced. Ties go to the higher impact score.
func (s *Scorer) Best(patterns []lifecycle.DiscoveredPattern, c Context) (Decision, bool) {
	var candidates []Decision
	impact := make(map[string]float64, len(patterns))
	for i := range patterns {
		d := s.Score(&patterns[i], c)
		if d.Surface {
			candidates = append(candidates, d)
			impact[d.PatternID] = patterns[i].ImpactScore
		}
	}
	if len(candidates) == 0 {
		return Decision{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return impact[candidates[i].PatternID] > impact[candidates[j].PatternID]
	})
	return candidates[0], true
}

func (s *Scorer) tooRecent(p *lifecycle.DiscoveredPattern, now time.Time) bool {
	last := p.Metadata.LastSurfacedAt
	if last == nil {
		return false
	}
	return now.Sub(*last) < s.limits[p.Type]
}

// vocabulary returns the terms a message can share with a pattern. Primary
// terms name the outcome and weigh more than the secondary ones.
func vocabulary(r detection.Rule) (primary, secondary []string) {
	switch {
	case r.Temporal != nil:
		return []string{r.Temporal.Outcome.Label}, []string{r.Temporal.Trigger.Label}
	case r.Multifactor != nil:
		primary = filterTerms(r.Multifactor.Outcome)
		for _, f := range r.Multifactor.Factors {
			secondary = append(secondary, filterTerms(f)...)
		}
		return primary, secondary
	case r.Sequence != nil && len(r.Sequence.Steps) > 0:
		steps := r.Sequence.Steps
		for _, st := range steps[:len(steps)-1] {
			secondary = append(secondary, string(st))
		}
		return []string{string(steps[len(steps)-1])}, secondary
	case r.Cyclical != nil:
		return []string{r.Cyclical.Characteristic.Label},
			[]string{strings.ToLower(r.Cyclical.Weekday.String())}
	case r.Semantic != nil:
		return []string{r.Semantic.Theme}, r.Semantic.Keywords
	}
	return nil, nil
}

// filterTerms names a filter by its string conditions, or by its event type
// when it has none.
func filterTerms(f health.EventFilter) []string {
	var terms []string
	for _, v := range f.MetadataConditions {
		if s, ok := v.(string); ok && !strings.ContainsAny(s, "<>=!") {
			terms = append(terms, s)
		}
	}
	if len(terms) == 0 {
		terms = append(terms, string(f.EventType))
	}
	sort.Strings(terms)
	return terms
}

func semanticScore(r detection.Rule, msg message) float64 {
	primary, secondary := vocabulary(r)
	if len(primary) == 0 {
		return 0
	}
	p := matchFraction(primary, msg)
	if len(secondary) == 0 {
		return 100 * p
	}
	return 60*p + 40*matchFraction(secondary, msg)
}

// temporalScore measures whether now falls where the pattern is expected
// to play out.
func temporalScore(r detection.Rule, recent []health.Event, now time.Time, loc *time.Location) float64 {
	switch {
	case r.Temporal != nil:
		best := 0.0
		lo := time.Duration(r.Temporal.MinHours * float64(time.Hour))
		hi := time.Duration(r.Temporal.MaxHours * float64(time.Hour))
		for i := range recent {
			if !grouping.Has(&recent[i], r.Temporal.Trigger) {
				continue
			}
			elapsed := now.Sub(recent[i].Timestamp)
			if elapsed >= lo && elapsed <= hi {
				return 100
			}
			// Trigger seen but the outcome window has not opened yet.
			best = neutral
		}
		return best
	case r.Multifactor != nil:
		if len(r.Multifactor.Factors) == 0 {
			return 0
		}
		since := now.Add(-time.Duration(r.Multifactor.WindowHours * float64(time.Hour)))
		matched := 0
		for _, f := range r.Multifactor.Factors {
			if anyMatch(recent, since, f.Matches) {
				matched++
			}
		}
		return 100 * float64(matched) / float64(len(r.Multifactor.Factors))
	case r.Sequence != nil:
		if len(r.Sequence.Steps) < 2 {
			return 0
		}
		gap := time.Duration(r.Sequence.MaxGapHours * float64(time.Hour))
		k := sequenceProgress(r.Sequence.Steps, recent, now, gap)
		return 100 * float64(k) / float64(len(r.Sequence.Steps)-1)
	case r.Cyclical != nil:
		l := loc
		if r.Cyclical.Timezone != "" {
			if zone, err := detection.LoadLocation(r.Cyclical.Timezone); err == nil {
				l = zone
			}
		}
		switch now.In(l).Weekday() {
		case r.Cyclical.Weekday:
			return 100
		case (r.Cyclical.Weekday + 6) % 7:
			return neutral
		}
		return 0
	}
	return neutral
}

// contextualScore measures whether the pattern's triggers actually
// happened recently.
func contextualScore(r detection.Rule, recent []health.Event) float64 {
	switch {
	case r.Temporal != nil:
		typeSeen := false
		for i := range recent {
			if grouping.Has(&recent[i], r.Temporal.Trigger) {
				return 100
			}
			if recent[i].Type == r.Temporal.Trigger.Type {
				typeSeen = true
			}
		}
		if typeSeen {
			return 25
		}
		return 0
	case r.Multifactor != nil:
		if len(r.Multifactor.Factors) == 0 {
			return 0
		}
		matched := 0
		for _, f := range r.Multifactor.Factors {
			if anyMatch(recent, time.Time{}, f.Matches) {
				matched++
			}
		}
		return 100 * float64(matched) / float64(len(r.Multifactor.Factors))
	case r.Cyclical != nil:
		for i := range recent {
			if grouping.Has(&recent[i], r.Cyclical.Characteristic) {
				return 100
			}
		}
		return neutral
	}

	triggers := insight.TriggerTypes(r)
	if len(triggers) == 0 {
		return neutral
	}
	seen := 0
	for _, t := range triggers {
		if len(health.OfType(recent, t)) > 0 {
			seen++
		}
	}
	return 100 * float64(seen) / float64(len(triggers))
}

// recencyScore favours patterns confirmed lately: full marks for a week,
// falling linearly to zero at ninety days.
func recencyScore(p *lifecycle.DiscoveredPattern, now time.Time) float64 {
	ref := p.UpdatedAt
	if ref.IsZero() {
		ref = p.CreatedAt
	}
	age := now.Sub(ref)
	switch {
	case age <= freshPatternAge:
		return 100
	case age >= stalePatternAge:
		return 0
	}
	return 100 * float64(stalePatternAge-age) / float64(stalePatternAge-freshPatternAge)
}

// triggered checks the type-specific condition that must hold before a
// pattern is raised at all.
func triggered(r detection.Rule, msg message, recent []health.Event, now time.Time, loc *time.Location) bool {
	switch {
	case r.Sequence != nil:
		return len(r.Sequence.Steps) > 0 && len(health.OfType(recent, r.Sequence.Steps[0])) > 0
	case r.Cyclical != nil:
		return temporalScore(r, nil, now, loc) == 100
	}
	if msg.containsAny(questionCues) || msg.containsAny(symptomKeywords) {
		return true
	}
	primary, _ := vocabulary(r)
	return matchFraction(primary, msg) > 0
}

// sequenceProgress returns how many leading steps of the chain the most
// recent events complete, up to len(steps)-1, with each link and the gap
// to now within gap.
func sequenceProgress(steps []health.EventType, recent []health.Event, now time.Time, gap time.Duration) int {
	n := len(recent)
	if n == 0 || now.Sub(recent[n-1].Timestamp) > gap {
		return 0
	}
	for k := len(steps) - 1; k >= 1; k-- {
		if k > n {
			continue
		}
		ok := true
		for j := 0; j < k; j++ {
			e := recent[n-k+j]
			if e.Type != steps[j] {
				ok = false
				break
			}
			if j > 0 && e.Timestamp.Sub(recent[n-k+j-1].Timestamp) > gap {
				ok = false
				break
			}
		}
		if ok {
			return k
		}
	}
	return 0
}

func anyMatch(events []health.Event, since time.Time, match func(*health.Event) bool) bool {
	for i := range events {
		if !since.IsZero() && events[i].Timestamp.Before(since) {
			continue
		}
		if match(&events[i]) {
			return true
		}
	}
	return false
}

// message is a lowercased chat message with its word tokens.
type message struct {
	text   string
	tokens []string
}

func normalizeMessage(s string) message {
	text := strings.ToLower(s)
	return message{
		text: text,
		tokens: strings.FieldsFunc(text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		}),
	}
}

// mentions reports whether the message refers to term. Single words also
// match simple inflections ("migraines", "sleeping").
func (m message) mentions(term string) bool {
	term = health.NormalizeLabel(term)
	if term == "" {
		return false
	}
	if strings.ContainsAny(term, " _-") {
		return strings.Contains(m.text, strings.NewReplacer("_", " ", "-", " ").Replace(term))
	}
	for _, tok := range m.tokens {
		if tok == term || tok == term+"s" || tok == term+"es" {
			return true
		}
		if len(term) >= 4 && strings.HasPrefix(tok, term) {
			return true
		}
	}
	return false
}

func (m message) containsAny(terms []string) bool {
	for _, t := range terms {
		if m.mentions(t) {
			return true
		}
	}
	return false
}

func matchFraction(terms []string, msg message) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, t := range terms {
		if msg.mentions(t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
