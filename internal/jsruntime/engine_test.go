package jsruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	engine, err := NewEngine(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestValidateMatchGlobal(t *testing.T) {
	engine := newTestEngine(t, Options{})

	script, err := engine.CompileValidator("starts_with_ticket", `match.indexOf("TICKET-") === 0`)
	require.NoError(t, err)

	ok, err := script.Validate(context.Background(), "TICKET-1234", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = script.Validate(context.Background(), "INVOICE-1234", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateContextGlobal(t *testing.T) {
	engine := newTestEngine(t, Options{})

	script, err := engine.CompileValidator("near_allowlist", `context.indexOf("allowlist") >= 0`)
	require.NoError(t, err)

	ok, err := script.Validate(context.Background(), "x", "the allowlist covers this value")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = script.Validate(context.Background(), "x", "no such marker")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateCoercesTruthiness(t *testing.T) {
	engine := newTestEngine(t, Options{})

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"boolean true", `true`, true},
		{"non-empty string", `"yes"`, true},
		{"zero", `0`, false},
		{"null", `null`, false},
		{"empty string", `""`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := engine.CompileValidator(tt.name, tt.src)
			require.NoError(t, err)

			got, err := script.Validate(context.Background(), "m", "c")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileSyntaxError(t *testing.T) {
	engine := newTestEngine(t, Options{})

	_, err := engine.CompileValidator("broken", `this is not javascript (`)
	require.Error(t, err)

	var jsErr *JsError
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, ErrorCodeSyntaxError, jsErr.Code)
}

func TestValidateRuntimeError(t *testing.T) {
	engine := newTestEngine(t, Options{})

	script, err := engine.CompileValidator("throws", `missingFunction()`)
	require.NoError(t, err)

	_, err = script.Validate(context.Background(), "m", "c")
	require.Error(t, err)

	var jsErr *JsError
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, ErrorCodeRuntimeError, jsErr.Code)
}

func TestValidateTimeoutInterruptsLoop(t *testing.T) {
	engine := newTestEngine(t, Options{Timeout: 30 * time.Millisecond})

	script, err := engine.CompileValidator("spin", `while (true) {}`)
	require.NoError(t, err)

	start := time.Now()
	_, err = script.Validate(context.Background(), "m", "c")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var jsErr *JsError
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, ErrorCodeTimeout, jsErr.Code)
}

func TestValidateSandboxHidesHostHooks(t *testing.T) {
	engine := newTestEngine(t, Options{})

	script, err := engine.CompileValidator("sandbox",
		`typeof require === "undefined" && typeof setTimeout === "undefined" && typeof setInterval === "undefined"`)
	require.NoError(t, err)

	ok, err := script.Validate(context.Background(), "m", "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateCancelledContext(t *testing.T) {
	engine := newTestEngine(t, Options{})

	script, err := engine.CompileValidator("slow", `while (true) {}`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = script.Validate(ctx, "m", "c")
	require.Error(t, err)
}

func TestValidatorHookFailsClosed(t *testing.T) {
	engine := newTestEngine(t, Options{})

	erroring, err := engine.CompileValidator("erroring", `boom()`)
	require.NoError(t, err)
	assert.True(t, erroring.ValidatorHook()("m", "c"),
		"script errors must keep the match")

	rejecting, err := engine.CompileValidator("rejecting", `false`)
	require.NoError(t, err)
	assert.False(t, rejecting.ValidatorHook()("m", "c"))

	confirming, err := engine.CompileValidator("confirming", `match.length > 2`)
	require.NoError(t, err)
	assert.True(t, confirming.ValidatorHook()("long enough", "c"))
}
