// Package action finds control directives such as [SEARCH:...] and
// [REMEMBER:...] in model output.
package action

import (
	"regexp"
	"strings"
)

// Kind names a directive.
type Kind string

const (
	KindSearch         Kind = "SEARCH"
	KindRemember       Kind = "REMEMBER"
	KindCalculate      Kind = "CALCULATE"
	KindCommand        Kind = "COMMAND"
	KindExecute        Kind = "EXECUTE"
	KindRequestTier    Kind = "REQUEST_TIER"
	KindSearchEpisodic Kind = "SEARCH_EPISODIC"
)

// keywords maps the literal directive keyword to its kind. WEB_SEARCH is an
// alias of SEARCH.
var keywords = map[string]Kind{
	"SEARCH":          KindSearch,
	"WEB_SEARCH":      KindSearch,
	"REMEMBER":        KindRemember,
	"CALCULATE":       KindCalculate,
	"COMMAND":         KindCommand,
	"EXECUTE":         KindExecute,
	"REQUEST_TIER":    KindRequestTier,
	"SEARCH_EPISODIC": KindSearchEpisodic,
}

// interrupting is the fixed policy table: an interrupting directive replaces
// the whole model turn and forces a re-prompt.
var interrupting = map[Kind]bool{
	KindSearch:         true,
	KindRemember:       false,
	KindCalculate:      false,
	KindCommand:        false,
	KindExecute:        false,
	KindRequestTier:    false,
	KindSearchEpisodic: false,
}

// Interrupting reports whether k replaces the visible response.
func (k Kind) Interrupting() bool {
	return interrupting[k]
}

// Kinds returns every kind, in declaration order.
func Kinds() []Kind {
	return []Kind{KindSearch, KindRemember, KindCalculate, KindCommand, KindExecute, KindRequestTier, KindSearchEpisodic}
}

// LookupKind resolves a directive keyword, case-sensitively.
func LookupKind(keyword string) (Kind, bool) {
	k, ok := keywords[keyword]
	return k, ok
}

// Signal is one directive parsed out of a model response.
type Signal struct {
	Kind    Kind
	Keyword string // literal keyword as written, e.g. WEB_SEARCH
	Payload string
	Raw     string // the full "[KIND:payload]" text
	Start   int    // byte offsets of Raw in the source text
	End     int
}

// Interrupting reports whether the signal replaces the visible response.
func (s Signal) Interrupting() bool {
	return s.Kind.Interrupting()
}

// Parsed is the outcome of scanning one model response.
type Parsed struct {
	Signal *Signal
	// Whole is set when an interrupting directive was found: the entire
	// response is treated as the directive and nothing is shown.
	Whole bool
	// Clean is the visible text with the directive cut out.
	Clean string
	// Source is the unmodified response.
	Source string
}

// Found reports whether a directive was recognised.
func (p Parsed) Found() bool {
	return p.Signal != nil
}

// Replace returns Source with the directive substituted by repl and spacing
// around the cut tidied. Without a signal it returns Source unchanged.
func (p Parsed) Replace(repl string) string {
	if p.Signal == nil {
		return p.Source
	}
	return joinAround(p.Source[:p.Signal.Start], repl, p.Source[p.Signal.End:])
}

var candidate = regexp.MustCompile(`\[([A-Z_]+):([^\[\]]*)\]`)

// Parse scans text for the first well-formed directive of a known kind.
// Bracketed text with an unknown keyword or an empty payload is not a
// directive and is skipped. Later directives are left in place.
func Parse(text string) Parsed {
	p := Parsed{Clean: text, Source: text}

	for _, m := range candidate.FindAllStringSubmatchIndex(text, -1) {
		keyword := text[m[2]:m[3]]
		kind, ok := LookupKind(keyword)
		if !ok {
			continue
		}
		payload := strings.TrimSpace(text[m[4]:m[5]])
		if payload == "" {
			continue
		}

		sig := &Signal{
			Kind:    kind,
			Keyword: keyword,
			Payload: payload,
			Raw:     text[m[0]:m[1]],
			Start:   m[0],
			End:     m[1],
		}
		p.Signal = sig

		if sig.Interrupting() {
			p.Whole = true
			p.Clean = ""
			return p
		}

		p.Clean = p.Replace("")
		return p
	}

	return p
}

// Strip removes every directive of a known kind from text.
func Strip(text string) string {
	for {
		p := Parse(text)
		if !p.Found() {
			return strings.TrimSpace(text)
		}
		text = p.Replace("")
	}
}

func joinAround(before, middle, after string) string {
	if middle == "" {
		before = strings.TrimRight(before, " \t")
		after = strings.TrimLeft(after, " \t")
		switch {
		case before == "" || after == "":
		case strings.HasSuffix(before, "\n") && strings.HasPrefix(after, "\n"):
			after = after[1:]
		case strings.HasSuffix(before, "\n") || strings.HasPrefix(after, "\n"):
		case startsWithPunct(after):
		default:
			before += " "
		}
		return strings.TrimSpace(before + after)
	}
	return strings.TrimSpace(before + middle + after)
}

func startsWithPunct(s string) bool {
	return s != "" && strings.ContainsRune(".,;:!?)", rune(s[0]))
}
