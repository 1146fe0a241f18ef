package aop

import (
	"fmt"
	"strings"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/legacy-lands/aspectrt/infrastructure/logging"
)

// ExceptionWrapperOptions configures section 4.4.5.
type ExceptionWrapperOptions struct {
	// Message is the template; "{method}", "{args}", "{original}" are
	// substituted with the method name, a formatted argument list, and the
	// original error's message respectively.
	Message     string
	Exclude     []rterrors.Kind
	LogOriginal bool
}

// ExceptionWrapperInterceptor implements section 4.4.5: wraps a target
// failure once, never double-wrapping an error that is already a
// WrappedApplicationError.
type ExceptionWrapperInterceptor struct {
	name    string
	order   int32
	matches pointcutMatcher
	opts    ExceptionWrapperOptions
	logger  *logging.Logger
}

func NewExceptionWrapperInterceptor(name string, order int32, matches func(MethodDescriptor) bool, opts ExceptionWrapperOptions, logger *logging.Logger) *ExceptionWrapperInterceptor {
	return &ExceptionWrapperInterceptor{name: name, order: order, matches: matches, opts: opts, logger: logger}
}

func (e *ExceptionWrapperInterceptor) Name() string                    { return e.name }
func (e *ExceptionWrapperInterceptor) Order() int32                    { return e.order }
func (e *ExceptionWrapperInterceptor) Applies(m MethodDescriptor) bool { return e.matches(m) }

func (e *ExceptionWrapperInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	result, err := proceed()
	if err == nil {
		return result, nil
	}

	kind := rterrors.KindOf(err)
	if containsKind(e.opts.Exclude, kind) {
		return nil, err
	}
	if kind == rterrors.KindWrappedApplicationError {
		return nil, err
	}

	if e.opts.LogOriginal && e.logger != nil {
		e.logger.WithContext(inv.Ctx).WithError(err).Warn("wrapping original exception")
	}

	message := e.opts.Message
	if message == "" {
		message = "{method} failed: {original}"
	}
	message = strings.ReplaceAll(message, "{method}", inv.Method.Type+"."+inv.Method.Method)
	message = strings.ReplaceAll(message, "{args}", fmt.Sprintf("%v", inv.Args))
	message = strings.ReplaceAll(message, "{original}", err.Error())

	return nil, rterrors.WrapApplicationError(message, err)
}
