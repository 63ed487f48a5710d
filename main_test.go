package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestSlugify verifies the slugify function behavior.
func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "hello-world"},
		{"Low page life expectancy", "low-page-life-expectancy"},
		{"  Leading and Trailing  ", "leading-and-trailing"},
		{"Multiple---Hyphens", "multiple-hyphens"},
		{"CamelCase", "camelcase"},
		{"with_underscores", "with-underscores"},
		{"MAXDOP above 8", "maxdop-above-8"},
		{"", ""},
		{"---", ""},
		{"Single", "single"},
		{"a", "a"},
		{"A-B-C", "a-b-c"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := slugify(tt.input)
			if result != tt.expected {
				t.Errorf("slugify(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestParseSuppressedSet verifies suppression list parsing.
func TestParseSuppressedSet(t *testing.T) {
	tests := []struct {
		input    string
		expected map[string]struct{}
	}{
		{
			"low-ple,cost-threshold-default",
			map[string]struct{}{"low-ple": {}, "cost-threshold-default": {}},
		},
		{
			"  low-ple , cost-threshold-default  ",
			map[string]struct{}{"low-ple": {}, "cost-threshold-default": {}},
		},
		{
			"Stale Statistics",
			map[string]struct{}{"stale-statistics": {}},
		},
		{
			"",
			map[string]struct{}{},
		},
		{
			"single",
			map[string]struct{}{"single": {}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseSuppressedSet(tt.input)
			if len(result) != len(tt.expected) {
				t.Errorf("parseSuppressedSet(%q) returned %d items, expected %d",
					tt.input, len(result), len(tt.expected))
			}
			for k := range tt.expected {
				if _, ok := result[k]; !ok {
					t.Errorf("parseSuppressedSet(%q) missing key %q", tt.input, k)
				}
			}
		})
	}
}

// TestExpandOutPlaceholders verifies timestamp placeholder expansion.
func TestExpandOutPlaceholders(t *testing.T) {
	testTime := time.Date(2024, 8, 30, 14, 25, 0, 0, time.UTC)

	tests := []struct {
		input    string
		expected string
	}{
		{"report_{ts}.html", "report_2024-08-30_1425.html"},
		{"{ts}_report.html", "2024-08-30_1425_report.html"},
		{"report.html", "report.html"},
		{"{ts}/{ts}.html", "2024-08-30_1425/2024-08-30_1425.html"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := expandOutPlaceholders(tt.input, testTime)
			if result != tt.expected {
				t.Errorf("expandOutPlaceholders(%q) = %q, expected %q",
					tt.input, result, tt.expected)
			}
		})
	}
}

// TestExpandOutPlaceholdersZeroTime verifies behavior with zero time.
func TestExpandOutPlaceholdersZeroTime(t *testing.T) {
	result := expandOutPlaceholders("report_{ts}.html", time.Time{})
	// Should use current time, so just verify the placeholder is replaced
	if result == "report_{ts}.html" {
		t.Error("expected {ts} placeholder to be replaced for zero time")
	}
}

// TestFirstNonEmpty verifies the first non-empty string selection.
func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		input    []string
		expected string
	}{
		{[]string{"a", "b", "c"}, "a"},
		{[]string{"", "b", "c"}, "b"},
		{[]string{"", "", "c"}, "c"},
		{[]string{"", "", ""}, ""},
		{[]string{}, ""},
		{[]string{"only"}, "only"},
	}

	for _, tt := range tests {
		result := firstNonEmpty(tt.input...)
		if result != tt.expected {
			t.Errorf("firstNonEmpty(%v) = %q, expected %q",
				tt.input, result, tt.expected)
		}
	}
}

// TestResolveOutputPath verifies output path resolution.
func TestResolveOutputPath(t *testing.T) {
	testTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		input    string
		expected string
	}{
		{"", defaultOutputFile},
		{"-", "-"},
		{"custom.html", "custom.html"},
		{"report_{ts}.html", "report_2024-01-15_1030.html"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := resolveOutputPath(tt.input, testTime)
			if result != tt.expected {
				t.Errorf("resolveOutputPath(%q) = %q, expected %q",
					tt.input, result, tt.expected)
			}
		})
	}
}

func writeBundleFile(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestRunExitCodes verifies the CLI surface end to end against exit codes.
func TestRunExitCodes(t *testing.T) {
	// Keep the diagnose runs offline regardless of the host environment.
	t.Setenv("SQLSERVER_URL", "")
	t.Setenv("DATABASE_URL", "")

	fastBundle := map[string]any{
		"query":    "SELECT 1",
		"baseline": map[string]any{"durationMs": 40},
	}
	blockedBundle := map[string]any{
		"query": "SELECT * FROM dbo.Orders",
		// no baseline: the first phase blocks
	}

	t.Run("version", func(t *testing.T) {
		if code := run([]string{"version"}); code != exitSuccess {
			t.Errorf("run(version) = %d, expected %d", code, exitSuccess)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		if code := run([]string{"frobnicate"}); code != exitUsageError {
			t.Errorf("run(frobnicate) = %d, expected %d", code, exitUsageError)
		}
	})

	t.Run("diagnose without bundle flag", func(t *testing.T) {
		if code := run([]string{"diagnose"}); code != exitUsageError {
			t.Errorf("run(diagnose) = %d, expected %d", code, exitUsageError)
		}
	})

	t.Run("diagnose with missing bundle file", func(t *testing.T) {
		code := run([]string{"diagnose", "--bundle", filepath.Join(t.TempDir(), "absent.json")})
		if code != exitUsageError {
			t.Errorf("expected %d, got %d", exitUsageError, code)
		}
	})

	t.Run("diagnose unknown format", func(t *testing.T) {
		code := run([]string{"diagnose", "--bundle", writeBundleFile(t, fastBundle), "--format", "pdf"})
		if code != exitUsageError {
			t.Errorf("expected %d, got %d", exitUsageError, code)
		}
	})

	t.Run("diagnose fast query succeeds", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "report.json")
		code := run([]string{"diagnose", "--bundle", writeBundleFile(t, fastBundle), "--format", "json", "--out", out})
		if code != exitSuccess {
			t.Fatalf("expected %d, got %d", exitSuccess, code)
		}
		if _, err := os.Stat(out); err != nil {
			t.Errorf("report not written: %v", err)
		}
	})

	t.Run("diagnose blocked session", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "report.json")
		code := run([]string{"diagnose", "--bundle", writeBundleFile(t, blockedBundle), "--format", "json", "--out", out})
		if code != exitEngineError {
			t.Fatalf("expected %d, got %d", exitEngineError, code)
		}
		// The partial report is still written.
		if _, err := os.Stat(out); err != nil {
			t.Errorf("partial report not written: %v", err)
		}
	})
}

// BenchmarkSlugify benchmarks the slugify function.
func BenchmarkSlugify(b *testing.B) {
	input := "Max server memory exceeds Standard Edition limit"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		slugify(input)
	}
}
