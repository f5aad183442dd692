package telegram

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fgeck/oltbackup/internal/models"
)

const timeLayout = "02/01/2006 15:04:05"

// Telegram limits, counted in characters.
const (
	maxCaptionLength = 1024
	maxMessageLength = 4096
)

// Free text is capped before escaping so markup and entities stay intact.
const (
	maxNameRunes    = 64
	maxDetailRunes  = 150
	maxAbortRunes   = 3000
	reportTailRunes = 512 // reserved for the lines after the device lists
)

// FormatStart announces a batch.
func FormatStart(runID string, devices int) string {
	return fmt.Sprintf("🔄 <b>Starting OLT backup</b> of %d device(s)\n🆔 <code>%s</code>", devices, escapeHTML(runID))
}

// FormatCaption describes one backed-up device; it is sent with the artifact.
func FormatCaption(result models.BackupResult) string {
	var b bytes.Buffer

	icon := "✅"
	if !result.Succeeded() {
		icon = "⚠️"
	}
	b.WriteString(fmt.Sprintf("%s <b>OLT backup:</b> %s\n", icon, escapeHTML(truncate(result.DeviceName, maxNameRunes))))
	if result.Artifact != nil {
		b.WriteString(fmt.Sprintf("📅 <b>Date:</b> %s\n", result.Artifact.CreatedAt.Format(timeLayout)))
		b.WriteString(fmt.Sprintf("📦 <b>Size:</b> %s\n", formatBytes(result.Artifact.SizeBytes)))
	}
	if result.Detail != "" {
		b.WriteString(fmt.Sprintf("⚠️ %s\n", escapeHTML(truncate(result.Detail, maxDetailRunes))))
	}

	return b.String()
}

// FormatReport renders the end-of-batch report. Device lists are cut short with a
// count of the omitted entries so the message stays within maxMessageLength.
func FormatReport(report *models.BatchReport) string {
	var b bytes.Buffer

	b.WriteString("📊 <b>OLT Backup Report</b>\n\n")
	b.WriteString(fmt.Sprintf("✅ Succeeded: %d/%d\n", report.Succeeded, report.Total))
	b.WriteString(fmt.Sprintf("❌ Failed: %d/%d\n", report.Failed, report.Total))
	b.WriteString(fmt.Sprintf("⏱ Duration: %s\n", report.Duration.Round(time.Second)))

	budget := maxMessageLength - reportTailRunes

	if report.Failed > 0 {
		var lines []string
		for _, r := range report.Results {
			if r.Succeeded() {
				continue
			}
			lines = append(lines, fmt.Sprintf("  • %s (%s): %s\n",
				escapeHTML(truncate(r.DeviceName, maxNameRunes)), r.Outcome, escapeHTML(truncate(r.Detail, maxDetailRunes))))
		}
		writeList(&b, "\n<b>⚠️ Failed devices:</b>\n", lines, budget)
	}

	var undelivered []string
	for _, r := range report.Results {
		if r.Status() == models.OutcomeNotifyFailed {
			undelivered = append(undelivered, fmt.Sprintf("  • %s\n", escapeHTML(truncate(r.DeviceName, maxNameRunes))))
		}
	}
	if len(undelivered) > 0 {
		writeList(&b, "\n<b>📎 Not delivered, kept on disk:</b>\n", undelivered, budget)
	}

	if report.WakeError != nil {
		b.WriteString(fmt.Sprintf("\n⚠️ Transfer server wake failed: <code>%s</code>\n",
			escapeHTML(truncate(report.WakeError.Error(), maxDetailRunes))))
	}

	b.WriteString(fmt.Sprintf("\n🕐 Finished: %s\n", report.StartTime.Add(report.Duration).Format(timeLayout)))
	b.WriteString(fmt.Sprintf("🆔 <code>%s</code>", escapeHTML(report.RunID)))

	return b.String()
}

// writeList writes header and as many whole lines as fit in budget runes.
func writeList(b *bytes.Buffer, header string, lines []string, budget int) {
	const moreLine = "  … and %d more\n"

	b.WriteString(header)
	for i, line := range lines {
		used := utf8.RuneCount(b.Bytes())
		if used+utf8.RuneCountInString(line)+utf8.RuneCountInString(moreLine) > budget {
			b.WriteString(fmt.Sprintf(moreLine, len(lines)-i))
			return
		}
		b.WriteString(line)
	}
}

// FormatAbort reports a batch that could not run at all.
func FormatAbort(err error) string {
	return fmt.Sprintf("🚨 <b>OLT backup aborted</b>\n<code>%s</code>", escapeHTML(truncate(err.Error(), maxAbortRunes)))
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:n-1]), " ") + "…"
}

// fitLines keeps the leading whole lines of an HTML text that fit in n runes. Formatted
// lines close their own tags, so cutting at a newline never breaks markup.
func fitLines(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndexByte(cut, '\n'); i >= 0 {
		return cut[:i+1]
	}
	return ""
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
