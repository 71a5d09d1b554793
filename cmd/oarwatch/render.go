package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/angariumd/oarwatch/internal/config"
	"github.com/angariumd/oarwatch/internal/gantt"
	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/topology"
)

const barWidth = 60

func paint(s string, c models.Color, on bool) string {
	if !on {
		return s
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", c.R, c.G, c.B, s)
}

func stamp(ts int64, layout string) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format(layout)
}

// walltime renders seconds the way oarstat does, h:mm:ss.
func walltime(secs int64) string {
	if secs <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Owner comes last: its colour codes would otherwise throw off the columns.
func printJobs(w io.Writer, jobs []models.Job, opts config.Options) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tQUEUE\tSTART\tWALLTIME\tHOSTS\tCOMMAND\tOWNER")
	layout := opts.DateLayout()
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.State, j.Queue, stamp(j.StartTime, layout), walltime(j.WallTime),
			orDash(strings.Join(j.Hosts, ",")), orDash(truncate(j.Command, 40)),
			paint(j.Owner, j.Color, opts.Color()))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// bar places [start, end) on a fixed-width line spanning [from, to].
func bar(start, end, from, to int64) string {
	line := []rune(strings.Repeat("·", barWidth))
	span := to - from
	if span <= 0 || start == 0 {
		return string(line)
	}
	lo := int((start - from) * barWidth / span)
	hi := int((end - from) * barWidth / span)
	lo = max(0, min(lo, barWidth-1))
	hi = max(lo+1, min(hi, barWidth))
	for i := lo; i < hi; i++ {
		line[i] = '█'
	}
	return string(line)
}

func printGantt(w io.Writer, tree gantt.Tree, opts config.Options) error {
	from, to, ok := tree.Span()
	layout := opts.DateLayout()
	if ok {
		fmt.Fprintf(w, "%s → %s\n", stamp(from, layout), stamp(to, layout))
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, g := range tree {
		fmt.Fprintf(tw, "%s\t\t\n", g.Key)
		for _, b := range g.Buckets {
			for _, j := range b.Jobs {
				fmt.Fprintf(tw, "  %s\t%d\t%s\n", b.Key, j.ID,
					paint(bar(j.StartTime, gantt.JobEnd(j), from, to), j.Color, opts.Color()))
			}
		}
	}
	return tw.Flush()
}

func printTopology(w io.Writer, idx *topology.Index) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tRESOURCES\tDETAIL")
	for _, c := range idx.Clusters() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d hosts\n", c.Name, c.State, topology.Flatten([]models.Cluster{c}).Cardinality(), len(c.Hosts))
		for _, h := range c.Hosts {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", h.Name, h.State, hostResources(h), orDash(h.NetworkAddress))
			for _, cpu := range h.Cpus {
				detail := fmt.Sprintf("%d cores", cpu.CoreCount)
				if cpu.Frequency > 0 {
					detail += fmt.Sprintf(" @ %.2f GHz", cpu.Frequency)
				}
				fmt.Fprintf(tw, "    %s\t\t%d\t%s\n", cpu.Name, len(cpu.Resources), detail)
			}
		}
	}
	return tw.Flush()
}

func hostResources(h models.Host) int {
	n := 0
	for _, cpu := range h.Cpus {
		n += len(cpu.Resources)
	}
	return n
}
