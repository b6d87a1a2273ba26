package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/client-go/util/jsonpath"

	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/manager"
)

// Render formats v according to flags. tableFn produces the
// human-readable form.
func Render(v any, flags *OutputFlags, tableFn func() string) (string, error) {
	switch flags.Format() {
	case OutputFormatJSON:
		return formatJSON(v)
	case OutputFormatYAML:
		return formatYAML(v)
	case OutputFormatJSONPath:
		return formatJSONPath(v, flags.JSONPathExpr())
	default:
		return tableFn(), nil
	}
}

func formatJSON(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

func formatYAML(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return buf.String(), nil
}

func formatJSONPath(v any, expr string) (string, error) {
	jp := jsonpath.New("output")
	if err := jp.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid jsonpath expression %q: %w", expr, err)
	}

	// jsonpath walks generic values, so round-trip through JSON first.
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	var data any
	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal: %w", err)
	}

	var buf bytes.Buffer
	if err := jp.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("jsonpath execution failed: %w", err)
	}
	return buf.String() + "\n", nil
}

func table(write func(w *tabwriter.Writer)) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	write(w)
	_ = w.Flush()
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func formatDeviceList(states []compute.DeviceState, kind device.Kind) string {
	if len(states) == 0 {
		return fmt.Sprintf("No managed %s found\n", plural(kind))
	}
	return table(func(w *tabwriter.Writer) {
		switch kind {
		case device.KindVM:
			fmt.Fprintln(w, "ID\tNAME\tCONSOLE\tNIOS\tCREATED")
			for _, s := range states {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
					s.Record.ID, s.Record.Name, s.Record.Console, len(s.NIOs), formatTime(s.Record.CreatedAt))
			}
		default:
			fmt.Fprintln(w, "ID\tNAME\tNIOS\tCIRCUITS\tCREATED")
			for _, s := range states {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
					s.Record.ID, s.Record.Name, len(s.NIOs), len(s.Circuits), formatTime(s.Record.CreatedAt))
			}
		}
	})
}

func formatCreated(r device.Record) string {
	if r.Kind == device.KindVM {
		return fmt.Sprintf("Created %s %d (%s) with console %d\n", r.Kind.Label(), r.ID, r.Name, r.Console)
	}
	return fmt.Sprintf("Created %s %d (%s)\n", r.Kind.Label(), r.ID, r.Name)
}

func formatDeviceState(s compute.DeviceState) string {
	var b strings.Builder

	r := s.Record
	fmt.Fprintf(&b, "%s  %d  %s\n", strings.ToUpper(r.Kind.Label()), r.ID, r.Name)
	if r.Kind == device.KindVM {
		fmt.Fprintf(&b, "  console  %d\n", r.Console)
	}
	fmt.Fprintf(&b, "  created  %s\n", formatTime(r.CreatedAt))

	b.WriteString("\n  NIOS\n")
	if len(s.NIOs) > 0 {
		b.WriteString(indent(table(func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "PORT\tNIO\tLPORT\tREMOTE\tCAPTURE")
			for _, n := range s.NIOs {
				capture := "-"
				if n.Filters.In != "" {
					capture = n.Filters.InOptions
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s:%d\t%s\n",
					n.Port, n.Name, n.Spec.LPort, n.Spec.RHost, n.Spec.RPort, capture)
			}
		})))
	} else {
		b.WriteString("  (none)\n")
	}

	if r.Kind == device.KindSwitch {
		b.WriteString("\n  CIRCUITS\n")
		if len(s.Circuits) > 0 {
			b.WriteString(indent(table(func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "IN\tOUT")
				for _, c := range s.Circuits {
					fmt.Fprintf(w, "%s\t%s\n", c.In, c.Out)
				}
			})))
		} else {
			b.WriteString("  (none)\n")
		}
	}

	if len(s.Reservations) > 0 {
		fmt.Fprintf(&b, "\n  UDP PORTS  %s\n", joinInts(s.Reservations))
	}
	return b.String()
}

func formatNames(names []string) string {
	if len(names) == 0 {
		return "No devices reported by the hypervisor\n"
	}
	return strings.Join(names, "\n") + "\n"
}

func formatSettings(s manager.Settings) string {
	work := s.WorkingDir
	if work == "" {
		work = "(default)"
	}
	return table(func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "udp\t%d-%d\n", s.UDP.StartPort, s.UDP.EndPort)
		fmt.Fprintf(w, "console\t%d-%d\n", s.Console.StartPort, s.Console.EndPort)
		fmt.Fprintf(w, "working_dir\t%s\n", work)
	})
}

func formatCheckReport(report manager.CheckReport) string {
	if len(report.Findings) == 0 {
		return "All checks passed.\n"
	}

	var b strings.Builder
	var errorCount, warningCount int
	lastHeading := ""
	for _, f := range report.Findings {
		heading := checkHeading(f.Kind, f.Category)
		if heading != lastHeading {
			if lastHeading != "" {
				b.WriteString("\n")
			}
			b.WriteString(heading + "\n")
			lastHeading = heading
		}
		fmt.Fprintf(&b, "  %-7s  %s\n", f.Severity, f.Description)
		switch f.Severity {
		case manager.SeverityError:
			errorCount++
		case manager.SeverityWarning:
			warningCount++
		}
	}
	fmt.Fprintf(&b, "\nSummary: %d error(s), %d warning(s)\n", errorCount, warningCount)
	return b.String()
}

func checkHeading(kind device.Kind, category string) string {
	var what string
	switch category {
	case "hypervisor", "hypervisor-missing":
		what = "Checking memory vs hypervisor..."
	case "hypervisor-unmanaged":
		what = "Checking hypervisor for unmanaged devices..."
	case "store-vs-memory":
		what = "Checking store vs memory..."
	case "stray-row":
		what = "Checking store for stray rows..."
	case "udp-range":
		what = "Checking UDP reservations..."
	case "workdir":
		what = "Checking working directories..."
	default:
		what = category
	}
	return fmt.Sprintf("[%s] %s", kind, what)
}

func plural(kind device.Kind) string {
	if kind == device.KindVM {
		return "VMs"
	}
	return "switches"
}

func indent(s string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l != "" {
			b.WriteString("  " + l)
		}
	}
	return b.String()
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
