package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonRed     = lipgloss.Color("#FF3131")
	dimWhite    = lipgloss.Color("#B0B0B0")

	passStyle    = lipgloss.NewStyle().Foreground(neonMagenta).Bold(true)
	countStyle   = lipgloss.NewStyle().Foreground(neonCyan)
	okStyle      = lipgloss.NewStyle().Foreground(neonGreen)
	warnStyle    = lipgloss.NewStyle().Foreground(neonYellow)
	errStyle     = lipgloss.NewStyle().Foreground(neonRed)
	dimStyle     = lipgloss.NewStyle().Foreground(dimWhite)
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(neonMagenta).
			Padding(0, 1)
)

// ProgressDisplay renders one status line per pass. In debug mode every
// item gets its own line instead.
type ProgressDisplay struct {
	mu        sync.Mutex
	out       io.Writer
	pass      string
	committed int
	skipped   int
	failed    int
	warnings  int
	current   string
	startTime time.Time
	isDebug   bool
	total     struct{ committed, skipped, failed, warnings int }
}

// NewProgressDisplay creates a display writing to out
func NewProgressDisplay(out io.Writer, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		out:       out,
		startTime: time.Now(),
		isDebug:   debug,
	}
}

// StartPass resets the per-pass counters
func (p *ProgressDisplay) StartPass(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pass != "" && !p.isDebug {
		fmt.Fprintln(p.out)
	}
	p.pass = name
	p.committed, p.skipped, p.failed, p.warnings = 0, 0, 0, 0
	p.current = ""
}

// Fetching marks an item as in flight
func (p *ProgressDisplay) Fetching(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = label
	if !p.isDebug {
		p.printProgress()
	}
}

// Committed marks an item as written and recorded
func (p *ProgressDisplay) Committed(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.committed++
	p.total.committed++
	if p.isDebug {
		fmt.Fprintf(p.out, "%s %s\n", okStyle.Render("✓"), label)
		return
	}
	p.printProgress()
}

// Skipped marks an item already in the ledger
func (p *ProgressDisplay) Skipped(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.skipped++
	p.total.skipped++
	if p.isDebug {
		fmt.Fprintf(p.out, "%s %s\n", dimStyle.Render("="), dimStyle.Render(label))
		return
	}
	p.printProgress()
}

// Failed marks an item as failed
func (p *ProgressDisplay) Failed(label string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed++
	p.total.failed++
	if p.isDebug {
		fmt.Fprintf(p.out, "%s %s - %v\n", errStyle.Render("✗"), label, err)
		return
	}
	p.printProgress()
}

// Warning records a best-effort failure
func (p *ProgressDisplay) Warning(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.warnings++
	p.total.warnings++
	if p.isDebug {
		fmt.Fprintf(p.out, "%s %v\n", warnStyle.Render("⚠"), err)
		return
	}
	p.printProgress()
}

// printProgress rewrites the current status line
func (p *ProgressDisplay) printProgress() {
	line := fmt.Sprintf("\r%s %s committed • %s skipped",
		passStyle.Render(p.pass),
		countStyle.Render(fmt.Sprint(p.committed)),
		countStyle.Render(fmt.Sprint(p.skipped)),
	)
	if p.failed > 0 {
		line += " • " + errStyle.Render(fmt.Sprintf("%d failed", p.failed))
	}
	if p.warnings > 0 {
		line += " • " + warnStyle.Render(fmt.Sprintf("%d warnings", p.warnings))
	}
	if p.current != "" {
		line += " • " + dimStyle.Render(truncateLabel(p.current, 40))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// Complete prints the run summary
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	lines := []string{
		okStyle.Render(fmt.Sprintf("✓ %d committed", p.total.committed)),
		dimStyle.Render(fmt.Sprintf("• %d already synced", p.total.skipped)),
	}
	if p.total.failed > 0 {
		lines = append(lines, errStyle.Render(fmt.Sprintf("✗ %d failed (rerun to retry)", p.total.failed)))
	}
	if p.total.warnings > 0 {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("⚠ %d warnings", p.total.warnings)))
	}
	lines = append(lines, dimStyle.Render("in "+FormatDuration(elapsed)))

	if !p.isDebug && p.pass != "" {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintln(p.out, summaryStyle.Render(strings.Join(lines, "\n")))
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncateLabel(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
