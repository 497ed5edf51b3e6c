package logger

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Run fn with stdout and stderr redirected to pipes
func capture(t *testing.T, fn func()) (stdout string, stderr string) {
	origOut, origErr := os.Stdout, os.Stderr
	defer func() { os.Stdout, os.Stderr = origOut, origErr }()

	rOut, wOut, err := os.Pipe()
	require.NoError(t, err)
	rErr, wErr, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout, os.Stderr = wOut, wErr

	fn()

	require.NoError(t, wOut.Close())
	require.NoError(t, wErr.Close())

	outBytes, err := io.ReadAll(rOut)
	require.NoError(t, err)
	errBytes, err := io.ReadAll(rErr)
	require.NoError(t, err)

	return string(outBytes), string(errBytes)
}

func TestLogger_parseLevel(t *testing.T) {
	t.Run("known levels in any case", func(t *testing.T) {
		known := map[string]slog.Level{
			LevelDebug: slog.LevelDebug,
			LevelInfo:  slog.LevelInfo,
			LevelWarn:  slog.LevelWarn,
			LevelError: slog.LevelError,
		}

		for name, want := range known {
			for _, input := range []string{name, strings.ToUpper(name), strings.ToUpper(name[:1]) + name[1:]} {
				t.Run(input, func(t *testing.T) {
					got, err := parseLevel(input)

					require.NoError(t, err)
					require.Equal(t, want, got)
				})
			}
		}
	})

	t.Run("unknown", func(t *testing.T) {
		for _, input := range []string{"", "verbose", "trace", "warning"} {
			t.Run(input, func(t *testing.T) {
				_, err := parseLevel(input)

				require.Error(t, err)
				require.Contains(t, err.Error(), "unknown log level")
			})
		}
	})
}

func TestLogger_TextLogger(t *testing.T) {
	stdout, stderr := capture(t, func() {
		l, err := NewTextLogger(LevelInfo)
		require.NoError(t, err)

		l.Info("Logged in", "username", "abebe", "role", "trader")
	})

	require.Empty(t, stdout)
	require.Contains(t, stderr, "level=INFO")
	require.Contains(t, stderr, `msg="Logged in"`)
	require.Contains(t, stderr, "username=abebe")
	require.Contains(t, stderr, "role=trader")
	require.Contains(t, stderr, "source=logger_test.go:", "source must point to the caller, without directory")
}

func TestLogger_JSONLogger(t *testing.T) {
	stdout, stderr := capture(t, func() {
		l, err := NewJSONLogger(LevelInfo)
		require.NoError(t, err)

		l.Warn("Refresh failed, session kept", "error", "backend down")
	})

	require.Empty(t, stdout)

	var entry struct {
		Level  string `json:"level"`
		Msg    string `json:"msg"`
		Error  string `json:"error"`
		Source struct {
			File string `json:"file"`
			Line int    `json:"line"`
		} `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(stderr), &entry), "record must be valid JSON: %s", stderr)
	require.Equal(t, "WARN", entry.Level)
	require.Equal(t, "Refresh failed, session kept", entry.Msg)
	require.Equal(t, "backend down", entry.Error)
	require.Equal(t, "logger_test.go", entry.Source.File)
	require.Positive(t, entry.Source.Line)
}

func TestLogger_NoOpLogger(t *testing.T) {
	stdout, stderr := capture(t, func() {
		l := NewNoOpLogger().With("component", "session")
		l.Debug("Token expiry timer armed")
		l.Info("Logged out", "reason", "expired")
		l.Warn("Failed to notify server about logout")
		l.Error("Failed to clear stored session")
	})

	require.Empty(t, stdout)
	require.Empty(t, stderr)
}

func TestLogger_Levels(t *testing.T) {
	order := []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
	emit := map[string]func(Logger){
		LevelDebug: func(l Logger) { l.Debug("Token expiry timer armed") },
		LevelInfo:  func(l Logger) { l.Info("Access token refreshed") },
		LevelWarn:  func(l Logger) { l.Warn("Refresh failed, session kept") },
		LevelError: func(l Logger) { l.Error("Failed to clear stored session") },
	}

	for threshold, configured := range order {
		for severity, record := range order {
			logged := severity >= threshold

			t.Run(configured+" logger "+record+" record", func(t *testing.T) {
				stdout, stderr := capture(t, func() {
					l, err := NewTextLogger(configured)
					require.NoError(t, err)

					emit[record](l)
				})

				require.Empty(t, stdout)
				require.Equal(t, logged, stderr != "", "level %s, record %s: logged=%v, stderr=%q", configured, record, logged, stderr)
			})
		}
	}
}

func TestLogger_With(t *testing.T) {
	_, stderr := capture(t, func() {
		l, err := NewTextLogger(LevelInfo)
		require.NoError(t, err)

		l.With("component", "session", "origin", "tab-1").Info("Login in another context detected")
	})

	require.Contains(t, stderr, "component=session")
	require.Contains(t, stderr, "origin=tab-1")
	require.Contains(t, stderr, `msg="Login in another context detected"`)
}

func TestLogger_WithGroup(t *testing.T) {
	_, stderr := capture(t, func() {
		l, err := NewJSONLogger(LevelInfo)
		require.NoError(t, err)

		l.WithGroup("claims").Info("Session restored", "username", "abebe", "token_version", 3)
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(stderr), &entry))
	claims, ok := entry["claims"].(map[string]any)
	require.True(t, ok, "attributes must be grouped: %s", stderr)
	require.Equal(t, "abebe", claims["username"])
	require.InDelta(t, 3, claims["token_version"], 0)
}

func TestLogger_New(t *testing.T) {
	t.Run("dev is text", func(t *testing.T) {
		_, stderr := capture(t, func() {
			l, err := New(EnvDevelopment, LevelDebug)
			require.NoError(t, err)

			l.Debug("Session restored", "state", "authenticated")
		})

		require.Contains(t, stderr, "state=authenticated")
	})

	t.Run("prod is json", func(t *testing.T) {
		_, stderr := capture(t, func() {
			l, err := New(EnvProduction, LevelInfo)
			require.NoError(t, err)

			l.Info("Session restored", "state", "authenticated")
		})

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(stderr), &entry), "prod logger must write JSON")
		require.Equal(t, "authenticated", entry["state"])
	})

	t.Run("unknown environment", func(t *testing.T) {
		_, err := New("staging", LevelInfo)
		require.Error(t, err)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := New(EnvProduction, "verbose")
		require.Error(t, err)
	})
}
