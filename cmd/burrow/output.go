package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/bridge"
	"github.com/cuemby/burrow/pkg/orchestrator"
	"github.com/cuemby/burrow/pkg/types"
	units "github.com/docker/go-units"
)

// report prints a result's messages verbatim and turns failure into an
// error. With asJSON the envelope is printed instead.
func report(w io.Writer, res *types.Result, asJSON bool) error {
	if asJSON {
		if err := bridge.WriteEnvelope(w, res); err != nil {
			return err
		}
		if !res.Success {
			return errReported
		}
		return nil
	}

	for _, m := range res.Messages {
		fmt.Fprintln(w, m)
	}
	if !res.Success {
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}

func printInstances(w io.Writer, views []types.InstanceView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No instances")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tPORT\tSTATUS\tMEMORY\tUPTIME\tRESTARTS")
	for _, v := range views {
		status, memory, uptime, restarts := "unknown", "-", "-", "-"
		if p := v.Process; p != nil {
			status = p.Status
			memory = units.HumanSize(float64(p.MemoryBytes))
			restarts = fmt.Sprintf("%d", p.Restarts)
			if p.UptimeSince > 0 && p.Status == "online" {
				uptime = units.HumanDuration(time.Since(time.UnixMilli(p.UptimeSince)))
			}
		}
		url := v.URL
		if v.UseTLS && !v.HasCertificate {
			url += " (no certificate)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n", v.Name, url, v.Port, status, memory, uptime, restarts)
	}
	tw.Flush()
}

func printDiagnostics(w io.Writer, d *orchestrator.Diagnostics) {
	state := "healthy"
	if !d.Healthy {
		state = "degraded"
	}
	fmt.Fprintf(w, "Host: %s (%s layout)\n\n", state, d.Convention)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tOK\tDETAIL")
	for _, t := range d.Tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, mark(t.Healthy), t.Message)
	}
	tw.Flush()

	fmt.Fprintln(w)
	if d.Binary.Installed {
		fmt.Fprintf(w, "Binary: %s %s (blake3 %s)\n", d.Binary.Path, d.Binary.Version, shortHash(d.Binary.Fingerprint))
	} else {
		fmt.Fprintf(w, "Binary: %s not installed\n", d.Binary.Path)
	}
	fmt.Fprintf(w, "Registry: %s, %d instances, %d with TLS, %d online\n",
		d.Registry.Path, d.Registry.Instances, d.Registry.TLS, d.Registry.Online)

	if len(d.Instances) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INSTANCE\tSTATUS\tDATA\tPROXY\tCERT\tPROBES")
		for _, i := range d.Instances {
			var probes []string
			for _, p := range i.Probes {
				probes = append(probes, fmt.Sprintf("%s %s", p.Name, mark(p.Healthy)))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", i.Name, i.Status, i.DataSize,
				mark(i.ProxyConfig), mark(i.HasCertificate), strings.Join(probes, ", "))
		}
		tw.Flush()
	}

	if len(d.Recent) > 0 {
		fmt.Fprintln(w)
		printHistory(w, d.Recent)
	}
}

func printHistory(w io.Writer, ops []*types.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No recorded operations")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tACTION\tINSTANCE\tRESULT\tDURATION")
	for _, op := range ops {
		result := "ok"
		if !op.Success {
			result = "failed: " + op.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			op.StartedAt.Local().Format(time.DateTime), op.Action, dash(op.Instance), result,
			op.FinishedAt.Sub(op.StartedAt).Round(time.Millisecond))
	}
	tw.Flush()
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

var stdout io.Writer = os.Stdout
