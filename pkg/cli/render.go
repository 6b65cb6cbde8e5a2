package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"query-enhancements/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

// renderFrame prints a data frame as a table, one row per value index.
func renderFrame(w io.Writer, df *domain.DataFrame) {
	if df == nil || len(df.Fields) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	header := make([]any, len(df.Fields))
	for i, f := range df.Fields {
		header[i] = f.Name
	}
	t := newTable(w, header...)
	for r := 0; r < df.Size; r++ {
		row := make(table.Row, len(df.Fields))
		for i, f := range df.Fields {
			if r < len(f.Values) {
				row[i] = formatValue(f.Values[r])
			}
		}
		t.AppendRow(row)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", df.Size)

	if df.Meta != nil && df.Meta.MultiQuery != nil {
		for _, qe := range df.Meta.MultiQuery.Errors {
			_, _ = fmt.Fprintf(w, "query %s failed: %s\n", qe.Query, qe.Error)
		}
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	case float64:
		if val == float64(int64(val)) && val < 1e15 && val > -1e15 {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
