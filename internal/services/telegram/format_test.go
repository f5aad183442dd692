package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestFormatStart(t *testing.T) {
	msg := FormatStart("run-1", 3)

	assert.Contains(t, msg, "3 device(s)")
	assert.Contains(t, msg, "run-1")
}

func TestFormatCaption(t *testing.T) {
	result := models.BackupResult{
		DeviceName: "olt<1>",
		Outcome:    models.OutcomeSuccess,
		Detail:     "save not acknowledged by device",
		Artifact: &models.BackupArtifact{
			SizeBytes: 1536 * 1024,
			CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	caption := FormatCaption(result)

	assert.Contains(t, caption, "olt&lt;1&gt;")
	assert.Contains(t, caption, "15/01/2024 10:30:00")
	assert.Contains(t, caption, "1.5 MiB")
	assert.Contains(t, caption, "save not acknowledged")
}

func TestFormatReport(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	report := models.NewBatchReport("run-42", start, []models.BackupResult{
		{DeviceName: "A", Outcome: models.OutcomeSuccess},
		{DeviceName: "B", Outcome: models.OutcomeSaveFailed, Detail: "connect 10.0.0.2:23: connection refused"},
		{DeviceName: "C", Outcome: models.OutcomeSuccess, NotifyErr: errors.New("chat not found")},
	})
	report.Duration = 90 * time.Second
	report.WakeError = errors.New("timeout waiting for server")

	msg := FormatReport(report)

	assert.Contains(t, msg, "Succeeded: 2/3")
	assert.Contains(t, msg, "Failed: 1/3")
	assert.Contains(t, msg, "B (save_failed): connect 10.0.0.2:23: connection refused")
	assert.NotContains(t, msg, "A (")
	assert.Contains(t, msg, "Not delivered, kept on disk")
	assert.Contains(t, msg, "• C")
	assert.Contains(t, msg, "timeout waiting for server")
	assert.Contains(t, msg, "15/01/2024 10:01:30")
	assert.Contains(t, msg, "run-42")
}

func TestFormatCaption_LongDetailKeepsMarkupIntact(t *testing.T) {
	result := models.BackupResult{
		DeviceName: strings.Repeat("olt&", 40),
		Outcome:    models.OutcomeSuccess,
		Detail:     strings.Repeat("é&", 600),
		Artifact:   &models.BackupArtifact{SizeBytes: 10, CreatedAt: time.Now()},
	}

	caption := FormatCaption(result)

	assertWellFormed(t, caption)
	assert.LessOrEqual(t, utf8.RuneCountInString(caption), maxCaptionLength)
	assert.Contains(t, caption, "é&amp;é&amp;")
	assert.True(t, strings.HasSuffix(caption, "…\n"))
}

func TestFormatReport_StaysWithinMessageLimit(t *testing.T) {
	var results []models.BackupResult
	for i := range 500 {
		results = append(results, models.BackupResult{
			DeviceName: fmt.Sprintf("olt-%03d", i),
			Outcome:    models.OutcomeTransferFailed,
			Detail:     strings.Repeat("<timeout> & ", 100),
		})
	}
	report := models.NewBatchReport("run-big", time.Now(), results)
	report.WakeError = errors.New(strings.Repeat("x", 1000))

	msg := FormatReport(report)

	assertWellFormed(t, msg)
	assert.LessOrEqual(t, utf8.RuneCountInString(msg), maxMessageLength)
	assert.Contains(t, msg, "Failed: 500/500")
	assert.Contains(t, msg, "olt-000")
	assert.Regexp(t, `… and \d+ more\n`, msg)
	assert.Contains(t, msg, "run-big")
}

func TestFormatReport_AllSucceeded(t *testing.T) {
	report := models.NewBatchReport("r", time.Now(), []models.BackupResult{
		{DeviceName: "A", Outcome: models.OutcomeSuccess},
	})

	msg := FormatReport(report)

	assert.Contains(t, msg, "Failed: 0/1")
	assert.NotContains(t, msg, "Failed devices")
}

func TestFormatAbort(t *testing.T) {
	assert.Contains(t, FormatAbort(errors.New("no devices <configured>")), "no devices &lt;configured&gt;")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "éé…", truncate("éééé", 3))
	assert.Equal(t, "ab…", truncate("ab cd", 4))
}

func TestFitLines(t *testing.T) {
	text := "<b>one</b>\n<b>two</b>\n<b>three</b>"

	assert.Equal(t, text, fitLines(text, 100))
	assert.Equal(t, "<b>one</b>\n<b>two</b>\n", fitLines(text, 25))
	assert.Equal(t, "", fitLines(text, 5))
}

// assertWellFormed checks that s is valid UTF-8 with only balanced tags and complete entities.
func assertWellFormed(t *testing.T, s string) {
	t.Helper()

	assert.True(t, utf8.ValidString(s))
	for _, tag := range []string{"b", "code"} {
		assert.Equal(t, strings.Count(s, "<"+tag+">"), strings.Count(s, "</"+tag+">"), "unbalanced <%s>", tag)
	}
	plain := strings.NewReplacer("<b>", "", "</b>", "", "<code>", "", "</code>", "").Replace(s)
	assert.NotContains(t, plain, "<")
	assert.NotContains(t, plain, ">")
	assert.NotContains(t, strings.NewReplacer("&amp;", "", "&lt;", "", "&gt;", "").Replace(plain), "&")
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{"a & b", "a &amp; b"},
		{"<>&", "&lt;&gt;&amp;"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeHTML(tt.input))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.0 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{1536 * 1024, "1.5 MiB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatBytes(tt.bytes))
		})
	}
}
