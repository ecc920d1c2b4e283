package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printRecord(w io.Writer, r *model.Record) {
	fmt.Fprintf(w, "Code:          %d\n", r.Code)
	fmt.Fprintf(w, "Kind:          %s\n", r.Kind)
	fmt.Fprintf(w, "Name:          %s\n", r.Name)
	if r.Description != "" {
		fmt.Fprintf(w, "Description:   %s\n", r.Description)
	}
	if len(r.WorkerGroups) > 0 {
		fmt.Fprintf(w, "Worker Groups: %s\n", strings.Join(r.WorkerGroups, ", "))
	}
	fmt.Fprintf(w, "Operator:      %d\n", r.OperatorID)
	if !r.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:    %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if !r.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:    %s\n", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if len(r.References) > 0 {
		fmt.Fprintf(w, "Referenced By: %s\n", strings.Join(r.References, ", "))
	}
	fmt.Fprintf(w, "Config:\n")
	for _, line := range strings.Split(strings.TrimRight(r.Config, "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func printRecordTable(w io.Writer, records []*model.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tWORKER GROUPS\tOPERATOR\tUPDATED")
	// code, operator and timestamp columns plus padding
	width := ui.ColumnWidth(50)
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			r.Code,
			ui.Truncate(r.Name, width),
			ui.Truncate(strings.Join(r.WorkerGroups, ","), width),
			r.OperatorID,
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
}

func printPage(w io.Writer, p *model.Page) {
	printRecordTable(w, p.Items)
	fmt.Fprintln(w, ui.RenderMuted(fmt.Sprintf("\npage %d/%d, %d records (%d total)",
		p.PageNo, p.TotalPages, len(p.Items), p.Total)))
}

// readConfigFile loads a config body from path, or stdin when path is "-".
func readConfigFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}
	return string(data), nil
}
