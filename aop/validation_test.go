package aop

import (
	"context"
	"errors"
	"regexp"
	"testing"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invokeValidated(vi *ValidationInterceptor, args []any) (any, error) {
	chain := NewChain([]Interceptor{vi}, succeedingTarget())
	return chain.Invoke(context.Background(), MethodDescriptor{Type: "Svc", Method: "Do"}, args)
}

func TestValidation_RequiredArgMissingFails(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Required: true}},
	})

	_, err := invokeValidated(vi, nil)
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.KindInvalidArgument))
}

func TestValidation_OnValidationFailureOverridesDefaultKind(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Required: true, OnValidationFailure: rterrors.KindValidationFailure}},
	})

	_, err := invokeValidated(vi, nil)
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.KindValidationFailure))
}

func TestValidation_RequiredZeroValueFails(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Required: true}},
	})

	_, err := invokeValidated(vi, []any{""})
	require.Error(t, err)
}

func TestValidation_PassingValueProceedsToTarget(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Required: true}},
	})

	result, err := invokeValidated(vi, []any{"player-1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestValidation_StringLengthBounds(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, MinLength: 3, MaxLength: 5}},
	})

	_, err := invokeValidated(vi, []any{"ab"})
	require.Error(t, err)

	_, err = invokeValidated(vi, []any{"abcdef"})
	require.Error(t, err)

	_, err = invokeValidated(vi, []any{"abcd"})
	require.NoError(t, err)
}

func TestValidation_PatternMismatchFails(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Pattern: regexp.MustCompile(`^[a-z]+$`)}},
	})

	_, err := invokeValidated(vi, []any{"UPPER"})
	require.Error(t, err)

	_, err = invokeValidated(vi, []any{"lower"})
	require.NoError(t, err)
}

func TestValidation_NumericRangeBounds(t *testing.T) {
	min := 1.0
	max := 10.0
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Min: &min, Max: &max}},
	})

	_, err := invokeValidated(vi, []any{0})
	require.Error(t, err)

	_, err = invokeValidated(vi, []any{11})
	require.Error(t, err)

	_, err = invokeValidated(vi, []any{5})
	require.NoError(t, err)
}

func TestValidation_CustomValidatorFailureUsesItsMessage(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Validator: func(v any) error {
			return errors.New("must be even")
		}}},
	})

	_, err := invokeValidated(vi, []any{3})
	require.Error(t, err)
	svcErr := rterrors.As(err)
	require.NotNil(t, svcErr)
	assert.Contains(t, svcErr.Message, "must be even")
}

func TestValidation_CustomMessageOverridesDefaultReason(t *testing.T) {
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{{ArgIndex: 0, Required: true, Message: "player id is mandatory"}},
	})

	_, err := invokeValidated(vi, nil)
	require.Error(t, err)
	svcErr := rterrors.As(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, "player id is mandatory", svcErr.Message)
}

func TestValidation_MultipleRulesStopAtFirstViolation(t *testing.T) {
	min := 1.0
	vi := NewValidationInterceptor("v", 0, matchAllMethods, ValidationOptions{
		Rules: []ParamRule{
			{ArgIndex: 0, Required: true},
			{ArgIndex: 1, Min: &min},
		},
	})

	_, err := invokeValidated(vi, []any{"", 5})
	require.Error(t, err)
	svcErr := rterrors.As(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, "arg0", svcErr.Details["field"])
}
