package proxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shaharia-lab/devserver/internal/config"
)

// Rule is a compiled proxy table entry.
type Rule struct {
	Context      string
	Target       *url.URL
	WS           bool
	ChangeOrigin bool
	VerifyTLS    bool
	Headers      map[string]string

	pattern     *regexp.Regexp
	rewrite     *regexp.Regexp
	replacement string
}

// Matches reports whether path is routed by this rule. Plain contexts are
// prefixes, so /ws also matches /ws/room and /wsx.
func (r *Rule) Matches(path string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(path)
	}
	return strings.HasPrefix(path, r.Context)
}

// RewritePath replaces the first match of the rewrite pattern in path.
func (r *Rule) RewritePath(path string) string {
	if r.rewrite == nil {
		return path
	}
	m := r.rewrite.FindStringSubmatchIndex(path)
	if m == nil {
		return path
	}
	repl := r.rewrite.ExpandString(nil, r.replacement, path, m)
	return path[:m[0]] + string(repl) + path[m[1]:]
}

// Table is the ordered set of compiled rules. The first match wins.
type Table struct {
	rules []*Rule
}

// Compile validates and compiles a configured proxy table.
func Compile(table config.ProxyTable) (*Table, error) {
	t := &Table{rules: make([]*Rule, 0, len(table))}
	for _, rc := range table {
		r, err := compileRule(rc)
		if err != nil {
			return nil, fmt.Errorf("proxy %q: %w", rc.Context, err)
		}
		t.rules = append(t.rules, r)
	}
	return t, nil
}

func compileRule(rc config.ProxyRule) (*Rule, error) {
	target, err := url.Parse(rc.Target)
	if err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	switch target.Scheme {
	case "ws":
		target.Scheme = "http"
	case "wss":
		target.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported target scheme %q", target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("target %q has no host", rc.Target)
	}

	r := &Rule{
		Context:      rc.Context,
		Target:       target,
		WS:           rc.WS,
		ChangeOrigin: rc.ChangeOrigin,
		VerifyTLS:    rc.VerifyTLS(),
		Headers:      rc.Headers,
	}

	if strings.HasPrefix(rc.Context, "^") {
		if r.pattern, err = regexp.Compile(rc.Context); err != nil {
			return nil, fmt.Errorf("compiling context: %w", err)
		}
	}
	if rc.Rewrite != nil {
		if r.rewrite, err = regexp.Compile(rc.Rewrite.Pattern); err != nil {
			return nil, fmt.Errorf("compiling rewrite: %w", err)
		}
		r.replacement = rc.Rewrite.Replacement
	}
	return r, nil
}

// Match returns the first rule routing path.
func (t *Table) Match(path string) (*Rule, bool) {
	for _, r := range t.rules {
		if r.Matches(path) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the compiled rules in declaration order.
func (t *Table) Rules() []*Rule {
	out := make([]*Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}
