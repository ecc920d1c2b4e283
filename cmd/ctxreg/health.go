package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/ctxreg/internal/client"
	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// healthReport is the status of the service plus the size of each registry.
// A registry whose count could not be read is reported with Count -1.
type healthReport struct {
	Status     string           `json:"status"`
	Registries []registryHealth `json:"registries"`
}

type registryHealth struct {
	Kind  model.Kind `json:"kind"`
	Count int        `json:"count"`
	Error string     `json:"error,omitempty"`
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the registry service and count its records",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := checkHealth(cmd.Context(), regClient)
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			printHealth(cmd.OutOrStdout(), report)
		}
		if report.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", report.Status)
		}
		return nil
	},
}

// checkHealth asks the service for its status and, when healthy, reads the
// record count of every registry from a one-row page.
func checkHealth(ctx context.Context, c client.RegistryClient) (*healthReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	status, err := c.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking health: %w", err)
	}
	report := &healthReport{Status: status}
	if status != "ok" {
		return report, nil
	}
	for _, kind := range []model.Kind{model.KindEnvironment, model.KindCluster} {
		rh := registryHealth{Kind: kind}
		page, err := c.List(ctx, kind, &client.ListRequest{PageNo: 1, PageSize: 1})
		if err != nil {
			rh.Count = -1
			rh.Error = err.Error()
		} else {
			rh.Count = page.Total
		}
		report.Registries = append(report.Registries, rh)
	}
	return report, nil
}

func printHealth(w io.Writer, report *healthReport) {
	fmt.Fprintf(w, "Health: %s\n", report.Status)
	for _, rh := range report.Registries {
		if rh.Error != "" {
			fmt.Fprintf(w, "  %-12s error: %s\n", rh.Kind, rh.Error)
			continue
		}
		fmt.Fprintf(w, "  %-12s %d records\n", rh.Kind, rh.Count)
	}
}
