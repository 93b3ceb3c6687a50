package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-friendly output utilities.
type UI struct {
	progress *mpb.Progress
	noColor  bool
	jsonMode bool
	once     sync.Once
}

// NewUI creates a new UI instance. Progress bars are only drawn on a
// terminal.
func NewUI(jsonMode, noColor bool) *UI {
	var progress *mpb.Progress
	if !jsonMode && IsTerminal() {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	}
	return &UI{
		progress: progress,
		noColor:  noColor || !IsTerminal(),
		jsonMode: jsonMode,
	}
}

// Close waits for progress bars to finish. It is safe to call more than
// once.
func (ui *UI) Close() {
	ui.once.Do(func() {
		if ui.progress != nil {
			ui.progress.Wait()
		}
	})
}

func (ui *UI) print(attr color.Attribute, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	line := fmt.Sprintf("%s %s\n", symbol, fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Print(line)
		return
	}
	color.New(attr).Print(line)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.print(color.FgGreen, "✓", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.print(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.print(color.FgCyan, "ℹ", format, args...)
}

// Error prints an error message.
func (ui *UI) Error(format string, args ...interface{}) {
	ui.print(color.FgRed, "✗", format, args...)
}

// ProgressBar adds a counting bar, or returns nil when bars are disabled.
func (ui *UI) ProgressBar(name string, total int64) *mpb.Bar {
	if ui.progress == nil || total <= 0 {
		return nil
	}
	return ui.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(
				decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}),
				" done",
			),
		),
	)
}

// Spinner shows an indeterminate spinner on stderr until the returned
// function is called. It draws nothing outside a terminal.
func (ui *UI) Spinner(message string) func() {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Println()
	header := fmt.Sprintf("━━━ %s ━━━", strings.ToUpper(title))
	if ui.noColor {
		fmt.Println(header)
	} else {
		color.New(color.FgMagenta, color.Bold).Println(header)
	}
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Printf("  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Printf("  %s: ", key)
	fmt.Printf("%v\n", value)
}

// Table prints rows under headers with box borders.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	border := func(left, mid, right string) {
		line := left
		for i, w := range widths {
			line += strings.Repeat("─", w+2)
			if i < len(widths)-1 {
				line += mid
			}
		}
		line += right
		if ui.noColor {
			fmt.Println(line)
		} else {
			color.New(color.FgCyan).Println(line)
		}
	}
	line := func(cells []string) {
		var b strings.Builder
		b.WriteString("│")
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" " + cell + strings.Repeat(" ", w-len([]rune(cell))) + " │")
		}
		fmt.Println(b.String())
	}

	border("┌", "┬", "┐")
	line(headers)
	border("├", "┼", "┤")
	for _, row := range rows {
		line(row)
	}
	border("└", "┴", "┘")
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
