// Package patterns implements the stateless utterance classifier used by
// the instant metrics and key-moment stages.
//
// Rule families are data, not code: each category owns an ordered table of
// regex families, and the first matching family wins within a category.
// Categories are evaluated in a fixed priority order, so a line that is both
// a price objection and a close attempt classifies as an objection. New
// verticals extend the tables without touching the matching logic.
package patterns

import "regexp"

// Category buckets an utterance by conversational function.
type Category string

const (
	CategoryObjection    Category = "objection"
	CategoryCloseAttempt Category = "close_attempt"
	CategorySafety       Category = "safety"
	CategoryDiscovery    Category = "discovery"
	CategoryRapport      Category = "rapport"
	CategoryNone         Category = "none"
)

// Severity grades how damaging an objection is. Only objections carry one.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Match is the classification result for a single utterance.
type Match struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity,omitempty"`
	Subtype  string   `json:"subtype,omitempty"`
}

// None is the zero classification for empty or unmatched text.
var None = Match{Category: CategoryNone}

// Family is one named rule group: an ordered list of patterns that all map
// to the same subtype and severity.
type Family struct {
	Subtype  string
	Severity Severity
	Patterns []*regexp.Regexp
}

func rx(exprs ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		compiled[i] = regexp.MustCompile(`(?i)` + expr)
	}
	return compiled
}

var objectionFamilies = []Family{
	{Subtype: "price", Severity: SeverityHigh, Patterns: rx(
		`too (much|expensive|pricey|costly)`,
		`can('?|no)t afford`,
		`(out of|not in) (my|our|the) budget`,
		`\bcheaper\b`,
		`how much (is|does|would)`,
		`what('?s| is) (this|that|it) go(nna|ing to) cost`,
	)},
	{Subtype: "timing", Severity: SeverityMedium, Patterns: rx(
		`not a good time`,
		`(i'?m|we'?re) (really )?busy`,
		`come back (later|another)`,
		`(middle of|about to) (dinner|something)`,
		`call (me )?back`,
		`maybe (next|some other)`,
	)},
	{Subtype: "trust", Severity: SeverityHigh, Patterns: rx(
		`(don'?t|do not) trust`,
		`(sounds|seems) like a scam`,
		`never heard of (you|your company)`,
		`too good to be true`,
		`(are|is) (you|this) (even )?legit`,
	)},
	{Subtype: "authority", Severity: SeverityMedium, Patterns: rx(
		`(ask|talk to|check with) my (husband|wife|spouse|partner|roommate)`,
		`not my (decision|house|call)`,
		`(i'?m|we'?re) (just )?rent(ing|ers)`,
		`the (landlord|owner) (handles|decides)`,
	)},
	{Subtype: "comparison", Severity: SeverityMedium, Patterns: rx(
		`(already|currently) (have|use|with) (a|another|someone)`,
		`(under|have a) contract`,
		`(my|our) (current|existing) (company|provider|guy)`,
		`get(ting)? (other|more) quotes`,
	)},
	{Subtype: "skepticism", Severity: SeverityLow, Patterns: rx(
		`(does|will) (it|that) (even|actually|really) work`,
		`(i'?m|we'?re) not (sure|convinced|interested)`,
		`(don'?t|do not) (need|want) (it|this|that|any)`,
		`what('?s| is) the catch`,
	)},
}

var closeFamilies = []Family{
	{Subtype: "assumptive", Patterns: rx(
		`(we|i) can (get you|have you|start) (started|scheduled|set up)`,
		`(our|the) (tech|technician|team) (can|will) (be|come) (out|by)`,
		`which (day|time) works (better|best)`,
		`morning or afternoon`,
	)},
	{Subtype: "urgency", Patterns: rx(
		`(only|just) (today|this week|while i'?m here)`,
		`(special|discounted?) (price|rate|offer) (today|right now)`,
		`(we'?re|i'?m) (already )?in (the|your) (area|neighborhood)`,
		`(spots|slots) (are )?(filling|going) (up|fast)`,
	)},
	{Subtype: "hard", Patterns: rx(
		`(sign|approve) (here|this|the agreement)`,
		`(let'?s|can we) (get|do) the paperwork`,
		`(do|can) (we|you) (have|want) (a|the) deal`,
		`(ready|time) to (sign|move forward|commit)`,
	)},
	{Subtype: "soft", Patterns: rx(
		`(does|would) that (work|sound (good|fair|reasonable))`,
		`(how|what) (does|do) that sound`,
		`(any|what) questions (for me|about)`,
		`(want|like) (me )?to (go ahead|get (you|that))`,
	)},
}

var safetyFamilies = []Family{
	{Subtype: "chemicals", Patterns: rx(
		`(pet|kid|child|family)[- ]?(safe|friendly)`,
		`safe (for|around) (pets|kids|children|animals|the family)`,
		`(epa|organic|non[- ]?toxic)`,
		`(chemical|product)s? (we|i) use`,
	)},
	{Subtype: "precaution", Patterns: rx(
		`(keep|stay) (off|away) (the lawn|until dry)`,
		`(dry|settle|ventilate) (time|period)`,
		`(wear|use) (gloves|protection)`,
	)},
}

var discoveryFamilies = []Family{
	{Subtype: "probing", Patterns: rx(
		`(have you|did you|do you) (ever )?(seen|noticed|had|dealt with)`,
		`(how long|how often|when) (have|did|do)`,
		`what (kind|type|sort) of`,
		`(tell|walk) me (about|through)`,
		`(where|how many|which) .*\?`,
	)},
}

var rapportFamilies = []Family{
	{Subtype: "smalltalk", Patterns: rx(
		`(how('?s| is) (your|the)|hope you'?re having) (day|morning|afternoon|evening)`,
		`(beautiful|lovely|nice|great) (home|yard|garden|dog|day)`,
		`(my name('?s| is)|i'?m) \w+ (with|from)`,
		`(thanks|thank you) (so much )?for (your time|chatting|talking)`,
		`(i|we) (live|work) (right |just )?(around|near|down)`,
	)},
}

// categoryTables fixes the evaluation priority across categories.
var categoryTables = []struct {
	category Category
	families []Family
}{
	{CategoryObjection, objectionFamilies},
	{CategoryCloseAttempt, closeFamilies},
	{CategorySafety, safetyFamilies},
	{CategoryDiscovery, discoveryFamilies},
	{CategoryRapport, rapportFamilies},
}

// Engine classifies utterances against the rule tables. The zero value is
// not usable; construct with NewEngine.
type Engine struct {
	tables []struct {
		category Category
		families []Family
	}
}

// NewEngine returns an engine loaded with the built-in rule tables.
func NewEngine() *Engine {
	return &Engine{tables: categoryTables}
}

// Classify maps a single utterance text to its pattern match. Deterministic
// and side-effect free; empty or whitespace-only text yields None.
func (e *Engine) Classify(text string) Match {
	if text == "" {
		return None
	}
	for _, table := range e.tables {
		for _, family := range table.families {
			for _, pattern := range family.Patterns {
				if pattern.MatchString(text) {
					match := Match{Category: table.category, Subtype: family.Subtype}
					if table.category == CategoryObjection {
						match.Severity = family.Severity
					}
					return match
				}
			}
		}
	}
	return None
}

// IsAffirmative reports whether text contains an agreement token. Used for
// close-attempt outcome inference.
func IsAffirmative(text string) bool {
	return affirmativePattern.MatchString(text)
}

var affirmativePattern = regexp.MustCompile(`(?i)\b(yes|yeah|yep|sure|okay|ok|sounds good|let'?s do it|sign me up|absolutely|deal)\b`)
