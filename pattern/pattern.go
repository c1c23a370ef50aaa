package pattern

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/yaoapp/kun/log"
)

// Verdict a handler's decision about the rest of the matching pass
type Verdict int

const (
	// Continue let lower-priority rules keep matching the same line
	Continue Verdict = iota
	// Stop end the matching pass for this line
	Stop
	// Gag suppress the line from any further output and end the pass
	Gag
)

// Handler invoked on a match with the full line and the capture groups,
// index 0 being the whole match
type Handler func(line string, groups []string) Verdict

// Rule a registered trigger or alias
type Rule struct {
	ID       string
	Source   string
	Priority int
	Enabled  bool
	Once     bool
	Gag      bool
	re       *regexp.Regexp
	handler  Handler
	seq      int
}

// Outcome the result of one matching pass
type Outcome struct {
	Matched int  // number of rules that matched
	Gagged  bool // the line must not reach the output path
}

// InvalidPatternError the pattern source does not compile
type InvalidPatternError struct {
	Source string
	Err    error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Source, e.Err.Error())
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// Registry an ordered set of pattern rules. One registry holds triggers,
// another holds aliases; the matching contract is identical.
type Registry struct {
	mu    sync.Mutex
	rules map[string]*Rule
	seq   int
}

// NewRegistry create an empty registry
func NewRegistry() *Registry {
	return &Registry{rules: map[string]*Rule{}}
}

// Register compile the pattern source and add an enabled rule. The pattern
// is compiled exactly once here; a compile failure rejects the registration
// with an InvalidPatternError.
func (r *Registry) Register(source string, priority int, once bool, gag bool, handler Handler) (string, error) {
	re, err := regexp.Compile(source)
	if err != nil {
		return "", &InvalidPatternError{Source: source, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rule := &Rule{
		ID:       uuid.NewString(),
		Source:   source,
		Priority: priority,
		Enabled:  true,
		Once:     once,
		Gag:      gag,
		re:       re,
		handler:  handler,
		seq:      r.seq,
	}
	r.rules[rule.ID] = rule
	return rule.ID, nil
}

// Unregister remove a rule. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, id)
}

// Enable enable a rule
func (r *Registry) Enable(id string) { r.setEnabled(id, true) }

// Disable disable a rule without removing it
func (r *Registry) Disable(id string) { r.setEnabled(id, false) }

func (r *Registry) setEnabled(id string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, has := r.rules[id]; has {
		rule.Enabled = enabled
	}
}

// Has check if a rule is registered
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, has := r.rules[id]
	return has
}

// Len the number of registered rules
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules)
}

// MatchLine run one matching pass over the line. Enabled rules are visited
// in descending priority order, registration order breaking ties. A once
// rule is unregistered before its handler runs, so a handler that throws or
// re-registers the same pattern behaves correctly. Handler panics are caught
// and logged and never abort the rest of the pass.
//
// A rule registered with gag marks the line gagged but the pass continues
// according to the handler's verdict; a Stop or Gag verdict ends the pass.
func (r *Registry) MatchLine(line string) Outcome {
	out := Outcome{}
	for _, rule := range r.snapshot() {
		groups := rule.re.FindStringSubmatch(line)
		if groups == nil {
			continue
		}

		out.Matched++
		if rule.Gag {
			out.Gagged = true
		}

		if rule.Once {
			r.Unregister(rule.ID)
		}

		verdict := r.fire(rule, line, groups)
		if verdict == Gag {
			out.Gagged = true
		}
		if verdict == Stop || verdict == Gag {
			break
		}
	}
	return out
}

// fire invoke the rule handler, containing panics
func (r *Registry) fire(rule *Rule, line string, groups []string) (verdict Verdict) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.With(log.F{"pattern": rule.Source, "id": rule.ID}).Error("pattern handler: %v", recovered)
			verdict = Continue
		}
	}()

	if rule.handler == nil {
		return Continue
	}
	return rule.handler(line, groups)
}

// Expand substitute $1..$n capture references in the template with the
// groups captured from the line, regexp.Expand semantics. Used for
// replacement-style aliases.
func (r *Registry) Expand(id string, line string, template string) (string, bool) {
	r.mu.Lock()
	rule, has := r.rules[id]
	r.mu.Unlock()
	if !has {
		return "", false
	}

	idx := rule.re.FindStringSubmatchIndex(line)
	if idx == nil {
		return "", false
	}
	return string(rule.re.ExpandString(nil, template, line, idx)), true
}

// snapshot copy the enabled rules in matching order, so that handlers can
// mutate the registry during the pass without tearing the iteration
func (r *Registry) snapshot() []*Rule {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].seq < rules[j].seq
	})
	return rules
}
