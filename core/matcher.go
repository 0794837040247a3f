package core

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/netresearch/fleetagent/core/domain"
)

// Matcher evaluates target expressions against a MatcherContext. Every
// method is pure and side-effect free except for diagnostic logging; no
// method ever panics out to the caller.
type Matcher struct {
	Logger       Logger
	foldCaser    cases.Caser
	rangeLookup  func(pattern string) (bool, error)
	nodegroups   map[string]string
}

// NewMatcher builds a Matcher. rangeLookup may be nil, in which case the
// "range" target type always evaluates to false (no range-expansion
// service configured).
func NewMatcher(logger Logger, rangeLookup func(string) (bool, error), nodegroups map[string]string) *Matcher {
	return &Matcher{
		Logger:      logger,
		foldCaser:   cases.Fold(),
		rangeLookup: rangeLookup,
		nodegroups:  nodegroups,
	}
}

// Match evaluates pattern against ctx for the given target type. An
// unrecognized target type or a malformed pattern both evaluate to false;
// no error ever escapes to the caller.
func (m *Matcher) Match(pattern, targetType string, ctx *domain.MatcherContext) bool {
	switch targetType {
	case "", "glob":
		return m.glob(pattern, ctx.AgentID)
	case "regex":
		return m.regex(pattern, ctx.AgentID)
	case "list":
		return m.list(pattern, ctx.AgentID)
	case "tree", "grain":
		return m.tree(pattern, ":", ctx.AttributeTree)
	case "tree_regex", "grain_pcre":
		return m.treeRegex(pattern, ":", ctx.AttributeTree)
	case "config", "pillar":
		return m.config(pattern, ":", ctx.ConfigTree)
	case "config_regex", "pillar_pcre":
		return m.configRegex(pattern, ":", ctx.ConfigTree)
	case "config_exact", "pillar_exact":
		return m.configExact(pattern, ":", ctx.ConfigTree)
	case "ipcidr":
		return m.ipcidr(pattern, ctx.Addresses)
	case "range":
		return m.rangeMatch(pattern)
	case "compound":
		return m.compound(pattern, ctx)
	case "nodegroup":
		return m.nodegroup(pattern, ctx)
	default:
		m.logf("unknown target type %q, treating as no match", targetType)
		return false
	}
}

func (m *Matcher) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Debugf(format, args...)
	}
}

// glob performs case-sensitive shell-style matching against the agent id.
func (m *Matcher) glob(pattern, id string) bool {
	ok, err := filepath.Match(pattern, id)
	if err != nil {
		m.logf("glob: bad pattern %q: %v", pattern, err)
		return false
	}
	return ok
}

// regex matches an anchored regular expression against the agent id.
func (m *Matcher) regex(pattern, id string) bool {
	anchored := pattern
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^" + anchored
	}
	if !strings.HasSuffix(anchored, "$") {
		anchored += "$"
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		m.logf("regex: bad pattern %q: %v", pattern, err)
		return false
	}
	return re.MatchString(id)
}

// list checks comma-separated membership.
func (m *Matcher) list(pattern, id string) bool {
	for _, item := range strings.Split(pattern, ",") {
		if strings.TrimSpace(item) == id {
			return true
		}
	}
	return false
}

func (m *Matcher) splitPathValue(pattern, delim string) (path, value string, ok bool) {
	idx := strings.LastIndex(pattern, delim)
	if idx < 0 {
		return "", "", false
	}
	return pattern[:idx], pattern[idx+len(delim):], true
}

func lookupTreePath(tree map[string]any, path, delim string) (any, bool) {
	segs := strings.Split(path, delim)
	var cur any = tree
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func valueEquals(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
		return false
	default:
		return fmt.Sprintf("%v", v) == want
	}
}

// tree walks the attribute-tree, split on delim, and checks a glob match
// against the leaf value.
func (m *Matcher) tree(pattern, delim string, tree map[string]any) bool {
	path, want, ok := m.splitPathValue(pattern, delim)
	if !ok {
		return false
	}
	v, ok := lookupTreePath(tree, path, delim)
	if !ok {
		return false
	}
	if s, ok := v.(string); ok {
		matched, _ := filepath.Match(want, s)
		return matched
	}
	return valueEquals(v, want)
}

func (m *Matcher) treeRegex(pattern, delim string, tree map[string]any) bool {
	path, want, ok := m.splitPathValue(pattern, delim)
	if !ok {
		return false
	}
	v, ok := lookupTreePath(tree, path, delim)
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return m.regex(want, s)
}

func (m *Matcher) config(pattern, delim string, tree map[string]any) bool {
	return m.tree(pattern, delim, tree)
}

func (m *Matcher) configRegex(pattern, delim string, tree map[string]any) bool {
	return m.treeRegex(pattern, delim, tree)
}

func (m *Matcher) configExact(pattern, delim string, tree map[string]any) bool {
	path, want, ok := m.splitPathValue(pattern, delim)
	if !ok {
		return false
	}
	v, ok := lookupTreePath(tree, path, delim)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && m.foldCaser.String(s) == m.foldCaser.String(want)
}

// ipcidr parses pattern as an address or CIDR network and checks whether
// any of the agent's addresses fall within it.
func (m *Matcher) ipcidr(pattern string, addresses []string) bool {
	var network netip.Prefix
	if strings.Contains(pattern, "/") {
		p, err := netip.ParsePrefix(pattern)
		if err != nil {
			m.logf("ipcidr: bad prefix %q: %v", pattern, err)
			return false
		}
		network = p
	} else {
		addr, err := netip.ParseAddr(pattern)
		if err != nil {
			m.logf("ipcidr: bad address %q: %v", pattern, err)
			return false
		}
		network = netip.PrefixFrom(addr, addr.BitLen())
	}
	for _, a := range addresses {
		addr, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if network.Contains(addr) {
			return true
		}
	}
	return false
}

// rangeMatch delegates to an optional external range-expansion service.
// With none configured it always evaluates to false.
func (m *Matcher) rangeMatch(pattern string) bool {
	if m.rangeLookup == nil {
		return false
	}
	ok, err := m.rangeLookup(pattern)
	if err != nil {
		m.logf("range: lookup failed for %q: %v", pattern, err)
		return false
	}
	return ok
}

// nodegroup expands a named group expression (itself a compound
// expression) out of the static nodegroup table.
func (m *Matcher) nodegroup(name string, ctx *domain.MatcherContext) bool {
	expr, ok := m.nodegroups[name]
	if !ok {
		return false
	}
	return m.compound(expr, ctx)
}

// compound evaluates a tokenized boolean target expression. Tokens are
// "(", ")", "and", "or", "not", or a typed atom "<prefix>@<pattern>"
// (prefix in G,P,I,J,L,S,E,R,N) with bare words defaulting to glob.
func (m *Matcher) compound(expr string, ctx *domain.MatcherContext) bool {
	tokens, err := tokenizeCompound(expr)
	if err != nil {
		m.logf("compound: %v", err)
		return false
	}
	p := &compoundParser{tokens: tokens, matcher: m, ctx: ctx}
	result, err := p.parseExpr()
	if err != nil {
		m.logf("compound: %v", err)
		return false
	}
	if !p.atEnd() {
		m.logf("compound: trailing tokens after %q", expr)
		return false
	}
	return result
}

func tokenizeCompound(expr string) ([]string, error) {
	var tokens []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, buf.String())
			buf.Reset()
		}
	}
	for _, r := range expr {
		switch {
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case r == ' ' || r == '\t':
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	if isBinaryOp(tokens[0]) {
		return nil, fmt.Errorf("expression starts with a binary operator %q", tokens[0])
	}
	return tokens, nil
}

func isBinaryOp(tok string) bool {
	low := strings.ToLower(tok)
	return low == "and" || low == "or"
}

type compoundParser struct {
	tokens  []string
	pos     int
	matcher *Matcher
	ctx     *domain.MatcherContext
}

func (p *compoundParser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *compoundParser) peek() string {
	if p.atEnd() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *compoundParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

// parseExpr ::= term (("and" | implicit-and) term)* ["or" parseExpr]
// so "and" binds tighter than "or".
func (p *compoundParser) parseExpr() (bool, error) {
	left, err := p.parseTerm()
	if err != nil {
		return false, err
	}
	for {
		tok := strings.ToLower(p.peek())
		switch {
		case tok == "and":
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return false, err
			}
			left = left && right
		case tok == "or":
			// the right operand is the whole remaining and-chain
			p.next()
			right, err := p.parseExpr()
			if err != nil {
				return false, err
			}
			return left || right, nil
		case tok == "not" || tok == "(" || isAtomStart(p.peek()):
			// implicit "and" before a "not" or a new atom/group
			right, err := p.parseTerm()
			if err != nil {
				return false, err
			}
			left = left && right
		default:
			return left, nil
		}
	}
}

// parseTerm ::= "not" term | "(" parseExpr ")" | atom
func (p *compoundParser) parseTerm() (bool, error) {
	if p.atEnd() {
		return false, fmt.Errorf("unexpected end of expression")
	}
	tok := p.peek()
	switch strings.ToLower(tok) {
	case "not":
		p.next()
		inner, err := p.parseTerm()
		if err != nil {
			return false, err
		}
		return !inner, nil
	case "(":
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return false, err
		}
		if p.peek() != ")" {
			return false, fmt.Errorf("expected closing paren")
		}
		p.next()
		return inner, nil
	case "and", "or":
		return false, fmt.Errorf("unexpected binary operator %q", tok)
	default:
		p.next()
		return p.evaluateAtom(tok), nil
	}
}

func isAtomStart(tok string) bool {
	if tok == "" || tok == ")" {
		return false
	}
	return !isBinaryOp(tok) && strings.ToLower(tok) != "not"
}

func (p *compoundParser) evaluateAtom(tok string) bool {
	prefix, pattern, hasPrefix := splitAtomPrefix(tok)
	if !hasPrefix {
		return p.matcher.glob(tok, p.ctx.AgentID)
	}
	switch prefix {
	case "G":
		return p.matcher.tree(pattern, ":", p.ctx.AttributeTree)
	case "P":
		return p.matcher.treeRegex(pattern, ":", p.ctx.AttributeTree)
	case "I":
		return p.matcher.config(pattern, ":", p.ctx.ConfigTree)
	case "J":
		return p.matcher.configRegex(pattern, ":", p.ctx.ConfigTree)
	case "L":
		return p.matcher.list(pattern, p.ctx.AgentID)
	case "S":
		return p.matcher.ipcidr(pattern, p.ctx.Addresses)
	case "E":
		return p.matcher.regex(pattern, p.ctx.AgentID)
	case "R":
		return p.matcher.rangeMatch(pattern)
	case "N":
		return p.matcher.nodegroup(pattern, p.ctx)
	default:
		return p.matcher.glob(tok, p.ctx.AgentID)
	}
}

func splitAtomPrefix(tok string) (prefix, pattern string, ok bool) {
	idx := strings.Index(tok, "@")
	if idx != 1 {
		return "", "", false
	}
	return tok[:1], tok[2:], true
}
