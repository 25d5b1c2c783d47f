// Package display renders run snapshots for the terminal.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/pacemaker/internal/feedback"
	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/internal/history"
	"github.com/ChuLiYu/pacemaker/internal/session"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

var (
	Subtext = lipgloss.Color("#a6adc8")
	Surface = lipgloss.Color("#45475a")
	Sky     = lipgloss.Color("#74c7ec")
	Green   = lipgloss.Color("#a6e3a1")
	Peach   = lipgloss.Color("#fab387")
	Red     = lipgloss.Color("#f38ba8")

	Panel = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Surface).
		Padding(0, 1)

	Title  = lipgloss.NewStyle().Foreground(Sky).Bold(true)
	Label  = lipgloss.NewStyle().Foreground(Subtext).Width(10)
	Value  = lipgloss.NewStyle().Bold(true)
	Muted  = lipgloss.NewStyle().Foreground(Subtext)
	Good   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	Warn   = lipgloss.NewStyle().Foreground(Peach).Bold(true)
	Bad    = lipgloss.NewStyle().Foreground(Red).Bold(true)
	Spoken = lipgloss.NewStyle().Foreground(Peach).Italic(true)
)

const barWidth = 24

// Distance formats km in the preferred unit, e.g. "2.50 km".
func Distance(km float64, unit types.DistanceUnit) string {
	return fmt.Sprintf("%.2f %s", geo.ForDisplay(km, unit), geo.UnitLabel(unit))
}

// Pace formats pace per preferred unit, e.g. "4:48 /km".
func Pace(p types.Pace, unit types.DistanceUnit) string {
	return fmt.Sprintf("%s /%s", geo.FormatPaceForUnit(p, unit), geo.UnitLabel(unit))
}

// ProgressBar draws a fixed-width bar for a 0..100 percentage.
func ProgressBar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	if filled < 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

// statusStyle colors the pace against the target pace.
func statusStyle(s types.Snapshot) lipgloss.Style {
	status, ok := feedback.Classify(s.Metrics.Pace, s.Goal.TargetPace())
	if !ok {
		return Value
	}
	switch status {
	case feedback.StatusAhead:
		return Good
	case feedback.StatusBehind:
		return Bad
	default:
		return Warn
	}
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, Label.Render(label), value)
}

// Render draws the full run panel.
func Render(s types.Snapshot, unit types.DistanceUnit) string {
	rows := []string{
		Title.Render("pacemaker") + "  " + Muted.Render(string(s.State)),
		"",
		row("distance", Value.Render(Distance(s.Metrics.DistanceKm, unit))+Muted.Render(" / "+Distance(s.Goal.DistanceKm, unit))),
		row("time", Value.Render(geo.FormatDuration(float64(s.Metrics.ElapsedSeconds)))+Muted.Render(" / "+geo.FormatDuration(s.Goal.TimeMinutes*60))),
		row("pace", statusStyle(s).Render(Pace(s.Metrics.Pace, unit))+Muted.Render(" target "+Pace(types.Pace{MinPerKm: s.Goal.TargetPace(), Valid: true}, unit))),
		row("progress", ProgressBar(s.Progress())+fmt.Sprintf(" %3.0f%%", s.Progress())),
	}
	if s.LastFeedback != "" {
		rows = append(rows, "", Spoken.Render("“"+s.LastFeedback+"”"))
	}
	return Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// Line is the one-line form used while running.
func Line(s types.Snapshot, unit types.DistanceUnit) string {
	return fmt.Sprintf("%s  %s  %s  %s %3.0f%%",
		Muted.Render(geo.FormatDuration(float64(s.Metrics.ElapsedSeconds))),
		Value.Render(Distance(s.Metrics.DistanceKm, unit)),
		statusStyle(s).Render(Pace(s.Metrics.Pace, unit)),
		ProgressBar(s.Progress()),
		s.Progress(),
	)
}

// Summary draws a finished run.
func Summary(run types.CompletedRun, unit types.DistanceUnit) string {
	outcome := Bad.Render("goal missed")
	if run.CompletedGoal {
		outcome = Good.Render("goal reached")
	}
	rows := []string{
		Title.Render("run complete") + "  " + outcome,
		"",
		row("distance", Value.Render(Distance(run.ActualDistanceKm, unit))+Muted.Render(" / "+Distance(run.TargetDistanceKm, unit))),
		row("time", Value.Render(geo.FormatDuration(float64(run.ActualTimeSeconds)))+Muted.Render(" / "+geo.FormatDuration(run.TargetTimeMinutes*60))),
		row("pace", Value.Render(Pace(run.AveragePace, unit))),
		row("id", Muted.Render(run.ID)),
	}
	return Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// HistoryTable lists runs, newest first, followed by totals.
func HistoryTable(runs []types.CompletedRun, sum history.Summary, unit types.DistanceUnit) string {
	if len(runs) == 0 {
		return Muted.Render("no runs yet")
	}

	var b strings.Builder
	header := fmt.Sprintf("%-36s  %-16s  %10s  %8s  %9s  %s", "ID", "DATE", "DISTANCE", "TIME", "PACE", "GOAL")
	b.WriteString(Title.Render(header))
	b.WriteString("\n")
	for _, r := range runs {
		goal := Bad.Render("no")
		if r.CompletedGoal {
			goal = Good.Render("yes")
		}
		fmt.Fprintf(&b, "%-36s  %-16s  %10s  %8s  %9s  %s\n",
			r.ID,
			r.Date.Local().Format("2006-01-02 15:04"),
			Distance(r.ActualDistanceKm, unit),
			geo.FormatDuration(float64(r.ActualTimeSeconds)),
			Pace(r.AveragePace, unit),
			goal,
		)
	}
	b.WriteString(Muted.Render(fmt.Sprintf("%d runs, %d goals reached, %s in %s",
		sum.Runs, sum.GoalsCompleted,
		Distance(sum.TotalDistanceKm, unit),
		geo.FormatDuration(float64(sum.TotalSeconds)))))
	return b.String()
}

// Renderer prints updates as they arrive. It is safe to hand its Update
// method to the controller.
type Renderer struct {
	mu   sync.Mutex
	out  io.Writer
	unit types.DistanceUnit
}

// NewRenderer returns a renderer writing to out.
func NewRenderer(out io.Writer, unit types.DistanceUnit) *Renderer {
	return &Renderer{out: out, unit: unit}
}

// Update prints a status line and any feedback spoken on this update.
func (r *Renderer) Update(u session.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.out, Line(u.Snapshot, r.unit))
	for _, msg := range u.Feedback {
		fmt.Fprintln(r.out, "  "+Spoken.Render(msg.Text))
	}
	if u.Recovered > 0 || u.GapSecs > 0 {
		fmt.Fprintln(r.out, "  "+Muted.Render(fmt.Sprintf("resumed after %s, %d buffered samples", geo.FormatDuration(float64(u.GapSecs)), u.Recovered)))
	}
}

// Finish prints the run panel and summary.
func (r *Renderer) Finish(snap types.Snapshot, run *types.CompletedRun) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.out, Render(snap, r.unit))
	if run != nil {
		fmt.Fprintln(r.out, Summary(*run, r.unit))
	}
}
