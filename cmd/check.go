package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/devserver/internal/health"
	"github.com/shaharia-lab/devserver/internal/proxy"
)

func newCheckCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every proxy target once",
		Long: `Dial every proxy target once and print whether it is reachable.
Exits non-zero when any target is down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}
			tbl, err := proxy.Compile(cfg.Server.Proxy)
			if err != nil {
				return err
			}

			prober := health.New(health.Config{
				Table:       tbl,
				DialTimeout: timeout,
				Logger:      slog.New(slog.DiscardHandler),
			})
			statuses := prober.CheckOnce(cmd.Context())

			out := cmd.OutOrStdout()
			printChecks(out, statuses)

			down := 0
			for _, st := range statuses {
				if !st.Up {
					down++
				}
			}
			if down > 0 {
				return fmt.Errorf("%d of %d proxy targets unreachable", down, len(statuses))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Dial timeout per target")
	return cmd
}

func printChecks(w io.Writer, statuses []health.Status) {
	if len(statuses) == 0 {
		fmt.Fprintln(w, "No proxy rules configured.")
		return
	}

	p := newPalette(w)
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state := p.up.Render("up")
		detail := st.Latency.Round(time.Microsecond).String()
		if !st.Up {
			state = p.down.Render("down")
			detail = st.Error
		}
		rows = append(rows, []string{st.Rule, st.Target, state, detail})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.dim).
		Headers("RULE", "TARGET", "STATUS", "DETAIL").
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}
