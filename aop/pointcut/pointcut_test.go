package pointcut

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Execution(t *testing.T) {
	m, err := Compile("execution(EntityService.saveEntity)")
	require.NoError(t, err)

	assert.True(t, m(MethodDescriptor{Type: "EntityService", Method: "saveEntity"}))
	assert.False(t, m(MethodDescriptor{Type: "EntityService", Method: "getEntity"}))
	assert.False(t, m(MethodDescriptor{Type: "OtherService", Method: "saveEntity"}))
}

func TestCompile_ExecutionWildcardMethod(t *testing.T) {
	m, err := Compile("execution(EntityService.*)")
	require.NoError(t, err)

	assert.True(t, m(MethodDescriptor{Type: "EntityService", Method: "saveEntity"}))
	assert.True(t, m(MethodDescriptor{Type: "EntityService", Method: "getEntity"}))
}

func TestCompile_ExecutionWildcardType(t *testing.T) {
	m, err := Compile("execution(*.saveEntity)")
	require.NoError(t, err)

	assert.True(t, m(MethodDescriptor{Type: "EntityService", Method: "saveEntity"}))
	assert.True(t, m(MethodDescriptor{Type: "OtherService", Method: "saveEntity"}))
	assert.False(t, m(MethodDescriptor{Type: "OtherService", Method: "getEntity"}))
}

func TestCompile_Within(t *testing.T) {
	m, err := Compile("within(com.example.service..)")
	require.NoError(t, err)

	assert.True(t, m(MethodDescriptor{Type: "com.example.service.Entity", Method: "anything"}))
	assert.False(t, m(MethodDescriptor{Type: "com.example.other.Entity", Method: "anything"}))
}

func TestCompile_Annotation(t *testing.T) {
	m, err := Compile("@annotation(Retry)")
	require.NoError(t, err)

	assert.True(t, m(MethodDescriptor{Type: "T", Method: "m", Annotations: []string{"Retry", "Logged"}}))
	assert.False(t, m(MethodDescriptor{Type: "T", Method: "m", Annotations: []string{"Logged"}}))
}

func TestCompile_CompositeLeftToRight(t *testing.T) {
	// within(Svc) && @annotation(Retry) || @annotation(Logged)
	// evaluates as (within && Retry) || Logged, strictly left-to-right.
	m, err := Compile("within(Svc) && @annotation(Retry) || @annotation(Logged)")
	require.NoError(t, err)

	assert.True(t, m(MethodDescriptor{Type: "Svc", Method: "m", Annotations: []string{"Retry"}}))
	assert.True(t, m(MethodDescriptor{Type: "Other", Method: "m", Annotations: []string{"Logged"}}))
	assert.False(t, m(MethodDescriptor{Type: "Other", Method: "m", Annotations: []string{"Retry"}}))
}

func TestCompile_RejectsParens(t *testing.T) {
	_, err := Compile("(within(Svc) && @annotation(Retry)) || @annotation(Logged)")
	require.Error(t, err)
}

func TestCompile_EmptyExpression(t *testing.T) {
	_, err := Compile("   ")
	require.Error(t, err)
}

func TestCompile_UnrecognisedPrimitive(t *testing.T) {
	_, err := Compile("bogus(Svc)")
	require.Error(t, err)
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustCompile("bogus(Svc)")
	})
}
