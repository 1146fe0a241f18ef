package aop

import (
	"fmt"
	"regexp"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
)

// ParamRule validates one argument position per section 4.4.4.
type ParamRule struct {
	ArgIndex  int
	Required  bool
	MinLength int
	MaxLength int
	Pattern   *regexp.Regexp
	Min       *float64
	Max       *float64
	Validator func(any) error
	Message   string

	// OnValidationFailure overrides the error kind raised for this rule.
	// Defaults to rterrors.KindInvalidArgument.
	OnValidationFailure rterrors.Kind
}

// ValidationOptions configures the validation interceptor.
type ValidationOptions struct {
	Rules []ParamRule
}

// ValidationInterceptor implements section 4.4.4. It runs before the
// target and raises InvalidArgument (the default kind) on the first rule
// violated.
type ValidationInterceptor struct {
	name    string
	order   int32
	matches pointcutMatcher
	opts    ValidationOptions
}

func NewValidationInterceptor(name string, order int32, matches func(MethodDescriptor) bool, opts ValidationOptions) *ValidationInterceptor {
	return &ValidationInterceptor{name: name, order: order, matches: matches, opts: opts}
}

func (v *ValidationInterceptor) Name() string                    { return v.name }
func (v *ValidationInterceptor) Order() int32                    { return v.order }
func (v *ValidationInterceptor) Applies(m MethodDescriptor) bool { return v.matches(m) }

func (v *ValidationInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	for _, rule := range v.opts.Rules {
		if rule.ArgIndex < 0 || rule.ArgIndex >= len(inv.Args) {
			if rule.Required {
				return nil, v.fail(rule, "missing required argument")
			}
			continue
		}
		arg := inv.Args[rule.ArgIndex]
		if err := v.checkRule(rule, arg); err != nil {
			return nil, err
		}
	}
	return proceed()
}

func (v *ValidationInterceptor) checkRule(rule ParamRule, arg any) error {
	if rule.Required && isZero(arg) {
		return v.fail(rule, "value is required")
	}
	if s, ok := arg.(string); ok {
		if rule.MinLength > 0 && len(s) < rule.MinLength {
			return v.fail(rule, fmt.Sprintf("length must be >= %d", rule.MinLength))
		}
		if rule.MaxLength > 0 && len(s) > rule.MaxLength {
			return v.fail(rule, fmt.Sprintf("length must be <= %d", rule.MaxLength))
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
			return v.fail(rule, "does not match required pattern")
		}
	}
	if n, ok := numeric(arg); ok {
		if rule.Min != nil && n < *rule.Min {
			return v.fail(rule, fmt.Sprintf("must be >= %v", *rule.Min))
		}
		if rule.Max != nil && n > *rule.Max {
			return v.fail(rule, fmt.Sprintf("must be <= %v", *rule.Max))
		}
	}
	if rule.Validator != nil {
		if err := rule.Validator(arg); err != nil {
			return v.fail(rule, err.Error())
		}
	}
	return nil
}

func (v *ValidationInterceptor) fail(rule ParamRule, reason string) error {
	msg := rule.Message
	if msg == "" {
		msg = reason
	}
	kind := rule.OnValidationFailure
	if kind == "" {
		kind = rterrors.KindInvalidArgument
	}
	return rterrors.New(kind, msg).WithDetails("field", fmt.Sprintf("arg%d", rule.ArgIndex))
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case int64:
		return x == 0
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
