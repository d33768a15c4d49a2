package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/zombor/scanbot/internal/device"
	"github.com/zombor/scanbot/internal/store"
)

const (
	msgDenied       = "❌ You do not have access to this bot."
	msgScanStarted  = "🔄 Scanning..."
	msgScanSending  = "📤 Sending the scanned document..."
	msgUnrecognized = "❓ Unknown command. Use /help to see what I can do."
	msgCleanNothing = "✨ No files to delete"

	captionTimeLayout = "02.01.2006 15:04:05"
)

const msgWelcome = `🖨️ <b>Document scanner bot</b>

Commands:
• /scan - scan a document
• /status - scanner status
• /cleanup - delete old files
• /help - help

Send /scan or press a button to start.`

func msgHelp(s Settings) string {
	return fmt.Sprintf(`🔧 <b>How to use this bot</b>

<b>Commands:</b>
• <code>/scan</code> - scans a document and sends you the file
• <code>/status</code> - shows the scanner status
• <code>/cleanup</code> - deletes old scanned files

<b>Scan settings:</b>
• Resolution: %d DPI
• Mode: %s
• Format: %s

<b>Limits:</b>
• Maximum file size: %d MB
• Files are deleted after: %d hours

If the scanner does not respond, restart the bot or check the printer connection.`,
		s.DPI, html.EscapeString(s.Mode), html.EscapeString(string(s.Format)), s.MaxFileSizeMB, s.RetentionHours)
}

func msgScanCaption(at time.Time, title string) string {
	caption := fmt.Sprintf("📄 Document scanned\n🕐 %s", at.Format(captionTimeLayout))
	if title != "" {
		caption = fmt.Sprintf("📄 %s\n🕐 %s", title, at.Format(captionTimeLayout))
	}
	return caption
}

func msgScannerError(err error) string {
	return "❌ Scanner error: " + html.EscapeString(err.Error())
}

func msgUnexpectedError(err error) string {
	return "❌ Unexpected error: " + html.EscapeString(err.Error())
}

func msgSendFailed(err error) string {
	return "❌ Could not send the scan: " + html.EscapeString(err.Error())
}

func msgStatusFailed(err error) string {
	return "❌ Could not read the status: " + html.EscapeString(err.Error())
}

func msgCleanupFailed(err error) string {
	return "❌ Cleanup failed: " + html.EscapeString(err.Error())
}

func msgCleaned(n int) string {
	return fmt.Sprintf("🗑️ Deleted %d old files", n)
}

func msgStatus(st device.Status, s Settings, files int, latest *store.Record) string {
	emoji, state := "⚠️", "Not initialized"
	if st.Open {
		emoji, state = "✅", "Ready"
	}
	name := st.Device
	if name == "" {
		name = "Unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Scanner status</b>\n\n", emoji)
	fmt.Fprintf(&b, "<b>State:</b> %s\n", state)
	fmt.Fprintf(&b, "<b>Device:</b> %s\n", html.EscapeString(name))
	fmt.Fprintf(&b, "<b>Resolution:</b> %d DPI\n", st.DPI)
	fmt.Fprintf(&b, "<b>Mode:</b> %s\n", html.EscapeString(st.Mode))
	fmt.Fprintf(&b, "<b>Format:</b> %s\n\n", html.EscapeString(string(s.Format)))
	fmt.Fprintf(&b, "<b>Scan directory:</b> <code>%s</code>\n", html.EscapeString(s.ScanDir))
	fmt.Fprintf(&b, "<b>Files:</b> %d", files)
	if latest != nil {
		fmt.Fprintf(&b, "\n<b>Last scan:</b> %s", latest.CreatedAt.Format(captionTimeLayout))
	}
	return b.String()
}
