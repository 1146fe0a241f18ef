// Package pointcut parses and evaluates method-selection expressions used
// to decide which interceptors apply to which methods, mirroring the
// execution/within/@annotation pointcut language of an aspect runtime
// without any reflection or dynamic proxying: matching runs against a
// plain MethodDescriptor built once at registration time.
package pointcut

import (
	"fmt"
	"strings"
)

// MethodDescriptor identifies an interceptable method. Type and Method are
// concrete names; the glob-style wildcards of execution()/within() patterns
// ("*" within a dot-separated segment, ".." across segments) are matched
// against them.
type MethodDescriptor struct {
	Type   string
	Method string
	// Annotations holds the fully-qualified marker names attached to this
	// method (e.g. "Retry", "CircuitBreaker"), the functional equivalent of
	// Java annotations for @annotation() pointcuts.
	Annotations []string
}

// HasAnnotation reports whether name is present on the descriptor.
func (m MethodDescriptor) HasAnnotation(name string) bool {
	for _, a := range m.Annotations {
		if a == name {
			return true
		}
	}
	return false
}

// Matcher evaluates a single method descriptor.
type Matcher func(MethodDescriptor) bool

// exprKind enumerates the primitive pointcut forms.
type exprKind int

const (
	kindExecution exprKind = iota
	kindWithin
	kindAnnotation
)

type primitive struct {
	kind    exprKind
	pattern string
}

// op is the boolean combinator between two consecutive primitives in a
// composite expression.
type op int

const (
	opAnd op = iota
	opOr
)

type term struct {
	prim primitive
	// combinator joining this term to the NEXT term; ignored on the last term.
	combinator op
}

// Compile parses a pointcut expression and returns a Matcher.
//
// Supported grammar:
//
//	execution(typePattern.methodPattern)
//	within(typePattern)
//	@annotation(fqAnnotationName)
//	expr && expr
//	expr || expr
//
// Mixed && / || combinators are evaluated strictly left-to-right with no
// operator precedence and no parenthesised sub-expressions — this matches
// the distilled source exactly and is a documented limitation, not an
// oversight: "a && b || c" evaluates as "(a && b) || c", and "a || b && c"
// evaluates as "(a || b) && c".
func Compile(expr string) (Matcher, error) {
	terms, err := parse(expr)
	if err != nil {
		return nil, err
	}
	return func(m MethodDescriptor) bool {
		if len(terms) == 0 {
			return false
		}
		result := evalPrimitive(terms[0].prim, m)
		for i := 0; i < len(terms)-1; i++ {
			next := evalPrimitive(terms[i+1].prim, m)
			switch terms[i].combinator {
			case opAnd:
				result = result && next
			case opOr:
				result = result || next
			}
		}
		return result
	}, nil
}

// MustCompile is like Compile but panics on a parse error, for use with
// expressions known at compile time (package-level var initialisation).
func MustCompile(expr string) Matcher {
	m, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return m
}

func parse(expr string) ([]term, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("pointcut: empty expression")
	}
	if strings.ContainsAny(expr, "()") && !containsBalancedCall(expr) {
		return nil, fmt.Errorf("pointcut: unbalanced parentheses: %q", expr)
	}

	var terms []term
	rest := expr
	for {
		primStr, combinator, tail, hasMore := splitNextCombinator(rest)
		primStr = strings.TrimSpace(primStr)
		if strings.HasPrefix(primStr, "(") {
			return nil, fmt.Errorf("pointcut: parenthesised sub-expressions are not supported: %q", expr)
		}
		p, err := parsePrimitive(primStr)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term{prim: p, combinator: combinator})
		if !hasMore {
			break
		}
		rest = tail
	}
	return terms, nil
}

// splitNextCombinator finds the first top-level "&&" or "||" in s (outside
// of a execution(...)/within(...)/@annotation(...) call) and splits there.
func splitNextCombinator(s string) (head string, combinator op, tail string, hasMore bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && i+1 < len(s) {
			if s[i] == '&' && s[i+1] == '&' {
				return s[:i], opAnd, s[i+2:], true
			}
			if s[i] == '|' && s[i+1] == '|' {
				return s[:i], opOr, s[i+2:], true
			}
		}
	}
	return s, opAnd, "", false
}

func parsePrimitive(s string) (primitive, error) {
	switch {
	case strings.HasPrefix(s, "execution(") && strings.HasSuffix(s, ")"):
		return primitive{kind: kindExecution, pattern: s[len("execution(") : len(s)-1]}, nil
	case strings.HasPrefix(s, "within(") && strings.HasSuffix(s, ")"):
		return primitive{kind: kindWithin, pattern: s[len("within(") : len(s)-1]}, nil
	case strings.HasPrefix(s, "@annotation(") && strings.HasSuffix(s, ")"):
		return primitive{kind: kindAnnotation, pattern: s[len("@annotation(") : len(s)-1]}, nil
	default:
		return primitive{}, fmt.Errorf("pointcut: unrecognised primitive expression: %q", s)
	}
}

func containsBalancedCall(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func evalPrimitive(p primitive, m MethodDescriptor) bool {
	switch p.kind {
	case kindExecution:
		return matchExecution(p.pattern, m)
	case kindWithin:
		return matchTypePattern(p.pattern, m.Type)
	case kindAnnotation:
		return m.HasAnnotation(p.pattern)
	default:
		return false
	}
}

// matchExecution matches "typePattern.methodPattern" against m, supporting
// "*" (any single segment fragment) and ".." (any number of segments) the
// same way within a dotted path.
func matchExecution(pattern string, m MethodDescriptor) bool {
	idx := strings.LastIndex(pattern, ".")
	if idx < 0 {
		return matchSegment(pattern, m.Method)
	}
	typePattern := pattern[:idx]
	methodPattern := pattern[idx+1:]
	return matchTypePattern(typePattern, m.Type) && matchSegment(methodPattern, m.Method)
}

func matchTypePattern(pattern, typeName string) bool {
	if pattern == ".." || pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "..") {
		parts := strings.SplitN(pattern, "..", 2)
		prefix, suffix := parts[0], parts[1]
		return strings.HasPrefix(typeName, prefix) && strings.HasSuffix(typeName, suffix)
	}
	return matchSegment(pattern, typeName)
}

// matchSegment matches a single glob segment where "*" stands for any run
// of characters not containing a dot.
func matchSegment(pattern, value string) bool {
	// "*" never spans a dot, so every dot in value must come from a literal
	// part of pattern.
	if strings.Count(pattern, ".") != strings.Count(value, ".") {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(value[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if last := parts[len(parts)-1]; last != "" {
		return strings.HasSuffix(value, last)
	}
	return true
}
