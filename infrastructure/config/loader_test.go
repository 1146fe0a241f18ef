package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_FallsBackWhenUnsetOrBlank(t *testing.T) {
	t.Setenv("ASPECTD_TEST_KEY", "")
	assert.Equal(t, "fallback", GetEnv("ASPECTD_TEST_KEY", "fallback"))

	t.Setenv("ASPECTD_TEST_KEY", "set-value")
	assert.Equal(t, "set-value", GetEnv("ASPECTD_TEST_KEY", "fallback"))
}

func TestGetEnvBool_AcceptsVariousTruthyForms(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", "y"} {
		t.Setenv("ASPECTD_TEST_BOOL", v)
		assert.Truef(t, GetEnvBool("ASPECTD_TEST_BOOL", false), "expected %q to be truthy", v)
	}

	t.Setenv("ASPECTD_TEST_BOOL", "no")
	assert.False(t, GetEnvBool("ASPECTD_TEST_BOOL", true))
}

func TestGetEnvInt_FallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("ASPECTD_TEST_INT", "not-a-number")
	assert.Equal(t, 42, GetEnvInt("ASPECTD_TEST_INT", 42))

	t.Setenv("ASPECTD_TEST_INT", "7")
	assert.Equal(t, 7, GetEnvInt("ASPECTD_TEST_INT", 42))
}

func TestParseEnvInt_ReportsPresence(t *testing.T) {
	t.Setenv("ASPECTD_TEST_PARSE_INT", "")
	_, ok := ParseEnvInt("ASPECTD_TEST_PARSE_INT")
	assert.False(t, ok)

	t.Setenv("ASPECTD_TEST_PARSE_INT", "99")
	v, ok := ParseEnvInt("ASPECTD_TEST_PARSE_INT")
	assert.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestParseEnvDuration_ReportsPresence(t *testing.T) {
	t.Setenv("ASPECTD_TEST_DURATION", "250ms")
	d, ok := ParseEnvDuration("ASPECTD_TEST_DURATION")
	assert.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestSplitAndTrimCSV_FiltersEmptyEntries(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitAndTrimCSV(" a, b ,, c "))
	assert.Nil(t, SplitAndTrimCSV(""))
}

func TestParseByteSize_SupportsSuffixesAndPlainBytes(t *testing.T) {
	cases := map[string]int64{
		"1KB":  1024,
		"2MB":  2 * 1024 * 1024,
		"1GB":  1024 * 1024 * 1024,
		"512":  512,
		"10k":  10 * 1024,
	}
	for raw, want := range cases {
		got, err := ParseByteSize(raw)
		assert.NoErrorf(t, err, "parsing %q", raw)
		assert.Equalf(t, want, got, "parsing %q", raw)
	}
}

func TestParseByteSize_RejectsInvalidInput(t *testing.T) {
	for _, raw := range []string{"", "abc", "-5MB", "0KB"} {
		_, err := ParseByteSize(raw)
		assert.Errorf(t, err, "expected error for %q", raw)
	}
}

func TestParseDurationOrDefault_FallsBackOnEmptyOrInvalid(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDurationOrDefault("", 5*time.Second))
	assert.Equal(t, 5*time.Second, ParseDurationOrDefault("not-a-duration", 5*time.Second))
	assert.Equal(t, 2*time.Second, ParseDurationOrDefault("2s", 5*time.Second))
}

func TestParseBoolOrDefault(t *testing.T) {
	assert.True(t, ParseBoolOrDefault("yes", false))
	assert.Equal(t, true, ParseBoolOrDefault("", true))
}

func TestParseIntOrDefault_FallsBackOnInvalid(t *testing.T) {
	assert.Equal(t, 10, ParseIntOrDefault("not-int", 10))
	assert.Equal(t, 99, ParseIntOrDefault("99", 10))
}

func TestGetPort_FallsBackWhenUnsetOrInvalid(t *testing.T) {
	t.Setenv("PORT", "")
	assert.Equal(t, 8080, GetPort(8080))

	t.Setenv("PORT", "9090")
	assert.Equal(t, 9090, GetPort(8080))

	t.Setenv("PORT", "-1")
	assert.Equal(t, 8080, GetPort(8080))
}

func TestGetDefaultTimeouts_ReturnsExpectedValues(t *testing.T) {
	timeouts := GetDefaultTimeouts()
	assert.Equal(t, 30*time.Second, timeouts.HTTP)
	assert.Equal(t, 5*time.Second, timeouts.Redis)
	assert.Equal(t, 10*time.Second, timeouts.Durable)
	assert.Equal(t, 15*time.Second, timeouts.Service)
}
