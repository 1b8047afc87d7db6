package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/shaharia-lab/devserver/internal/build"
	"github.com/shaharia-lab/devserver/internal/config"
	"github.com/shaharia-lab/devserver/internal/eventbus"
)

// palette renders terminal output for one writer. Colors and hyperlinks
// degrade to plain text when the writer is not a terminal.
type palette struct {
	out   *termenv.Output
	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	dim   lipgloss.Style
	up    lipgloss.Style
	down  lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		out:   termenv.NewOutput(w),
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		label: r.NewStyle().Foreground(lipgloss.Color("241")).Width(10),
		value: r.NewStyle().Foreground(lipgloss.Color("39")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("245")),
		up:    r.NewStyle().Foreground(lipgloss.Color("42")),
		down:  r.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// link returns url as a clickable hyperlink on terminals that render color.
func (p palette) link(url string) string {
	if p.out.Profile == termenv.Ascii {
		return url
	}
	return p.out.Hyperlink(url, url)
}

// printBanner writes the startup summary. Structured logs go to stderr or
// the log file; this is what a developer reads.
func (p palette) printBanner(w io.Writer, cfg *config.DevServerConfig) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n  %s %s\n\n", p.title.Render("devserver"), p.dim.Render(build.Version))
	p.row(&b, "Local", p.value.Render(p.link(cfg.URL())))
	p.row(&b, "Root", cfg.Root)
	for i, r := range cfg.Server.Proxy {
		label := ""
		if i == 0 {
			label = "Proxy"
		}
		kind := ""
		if r.WS {
			kind = p.dim.Render(" (ws)")
		}
		p.row(&b, label, fmt.Sprintf("%s -> %s%s", r.Context, r.Target, kind))
	}
	reload := "off"
	if cfg.Server.LiveReload {
		reload = "on"
	}
	p.row(&b, "Reload", reload)
	b.WriteString("\n")
	_, _ = io.WriteString(w, b.String())
}

func (p palette) row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s%s\n", p.label.Render(label), value)
}

// upstreamLine formats an upstream.up or upstream.down event.
func (p palette) upstreamLine(e eventbus.Event) string {
	rule, target := e.Payload["rule"], e.Payload["target"]
	if e.Type == eventbus.UpstreamUp {
		return fmt.Sprintf("  %s %s -> %s is reachable", p.up.Render("✓"), rule, target)
	}
	return fmt.Sprintf("  %s %s -> %s is unreachable: %s", p.down.Render("✗"), rule, target, p.dim.Render(e.Payload["error"]))
}
