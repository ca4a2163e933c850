package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rezonia/nfse-processor/internal/response"
)

// outputTable renders list payloads one row per item and map payloads one
// row per key
func outputTable(w *os.File, resp *response.Response) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if resp.IsError() {
		fmt.Fprintf(tw, "OPERATION\tERROR\tCODE\n")
		fmt.Fprintf(tw, "%s\t%s\t%s\n", resp.Operation(), resp.ErrorMessage(), resp.ErrorCode())
		return tw.Flush()
	}

	switch data := resp.Data().(type) {
	case []any:
		writeRows(tw, data)
	case map[string]any:
		writeKeyValues(tw, data)
	default:
		fmt.Fprintf(tw, "%v\n", data)
	}
	return tw.Flush()
}

func writeRows(tw *tabwriter.Writer, rows []any) {
	if len(rows) == 0 {
		fmt.Fprintln(tw, "(no rows)")
		return
	}
	first, ok := rows[0].(map[string]any)
	if !ok {
		for _, r := range rows {
			fmt.Fprintf(tw, "%v\n", r)
		}
		return
	}

	columns := sortedKeys(first)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(columns, "\t")))
	for _, r := range rows {
		row, _ := r.(map[string]any)
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = fmt.Sprint(row[c])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
}

func writeKeyValues(tw *tabwriter.Writer, data map[string]any) {
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range sortedKeys(data) {
		fmt.Fprintf(tw, "%s\t%v\n", k, data[k])
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
