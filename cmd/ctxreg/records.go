package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alfredjeanlab/ctxreg/internal/client"
	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/spf13/cobra"
)

// newKindCmd builds the create/update/show/list/delete/verify tree for one
// registry kind.
func newKindCmd(use, short string, kind model.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		GroupID: "registry",
	}
	cmd.AddCommand(
		newCreateCmd(kind),
		newUpdateCmd(kind),
		newShowCmd(kind),
		newListCmd(kind),
		newDeleteCmd(kind),
		newVerifyCmd(kind),
	)
	return cmd
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "record name (unique per kind)")
	cmd.Flags().String("config", "", "config body")
	cmd.Flags().String("config-file", "", "read the config body from a file (- for stdin)")
	cmd.Flags().String("description", "", "free-form description")
	cmd.Flags().StringSlice("worker-groups", nil, "worker groups (comma-separated)")
}

// applyRecordFlags overlays the flags the user set onto req.
func applyRecordFlags(cmd *cobra.Command, req *client.RecordRequest) error {
	f := cmd.Flags()
	if f.Changed("name") {
		req.Name, _ = f.GetString("name")
	}
	if f.Changed("config") && f.Changed("config-file") {
		return errors.New("--config and --config-file are mutually exclusive")
	}
	if f.Changed("config") {
		req.Config, _ = f.GetString("config")
	}
	if f.Changed("config-file") {
		path, _ := f.GetString("config-file")
		body, err := readConfigFile(path)
		if err != nil {
			return err
		}
		req.Config = body
	}
	if f.Changed("description") {
		req.Description, _ = f.GetString("description")
	}
	if f.Changed("worker-groups") {
		req.WorkerGroups, _ = f.GetStringSlice("worker-groups")
	}
	return nil
}

func parseCode(s string) (int64, error) {
	code, err := strconv.ParseInt(s, 10, 64)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("invalid code %q", s)
	}
	return code, nil
}

func newCreateCmd(kind model.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a " + kind.String(),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &client.RecordRequest{}
			if err := applyRecordFlags(cmd, req); err != nil {
				return err
			}
			r, err := regClient.Create(context.Background(), kind, req)
			if err != nil {
				return fmt.Errorf("creating %s: %w", kind, err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), r)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (code %d)\n", kind, r.Name, r.Code)
			return nil
		},
	}
	addRecordFlags(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUpdateCmd(kind model.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <code>",
		Short: "Update a " + kind.String(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseCode(args[0])
			if err != nil {
				return err
			}
			ctx := context.Background()

			// Updates replace the whole record, so start from the current one.
			cur, err := regClient.Get(ctx, kind, code)
			if err != nil {
				return fmt.Errorf("getting %s %d: %w", kind, code, err)
			}
			req := &client.RecordRequest{
				Name:         cur.Name,
				Config:       cur.Config,
				Description:  cur.Description,
				WorkerGroups: cur.WorkerGroups,
			}
			if err := applyRecordFlags(cmd, req); err != nil {
				return err
			}

			r, err := regClient.Update(ctx, kind, code, req)
			if err != nil {
				return fmt.Errorf("updating %s %d: %w", kind, code, err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), r)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %q (code %d)\n", kind, r.Name, r.Code)
			return nil
		},
	}
	addRecordFlags(cmd)
	return cmd
}

func newShowCmd(kind model.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show a " + kind.String() + " and what references it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseCode(args[0])
			if err != nil {
				return err
			}
			r, err := regClient.Get(context.Background(), kind, code)
			if err != nil {
				return fmt.Errorf("getting %s %d: %w", kind, code, err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), r)
			}
			printRecord(cmd.OutOrStdout(), r)
			return nil
		},
	}
}

func newListCmd(kind model.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List " + kind.String() + "s",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			all, _ := cmd.Flags().GetBool("all")
			if all {
				records, err := regClient.ListAll(ctx, kind)
				if err != nil {
					return fmt.Errorf("listing %ss: %w", kind, err)
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), records)
				}
				printRecordTable(cmd.OutOrStdout(), records)
				return nil
			}

			search, _ := cmd.Flags().GetString("search")
			pageNo, _ := cmd.Flags().GetInt("page")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			page, err := regClient.List(ctx, kind, &client.ListRequest{
				SearchVal: search,
				PageNo:    pageNo,
				PageSize:  pageSize,
			})
			if err != nil {
				return fmt.Errorf("listing %ss: %w", kind, err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), page)
			}
			printPage(cmd.OutOrStdout(), page)
			return nil
		},
	}
	cmd.Flags().StringP("search", "s", "", "filter by name substring")
	cmd.Flags().Int("page", 1, "page number (1-based)")
	cmd.Flags().Int("page-size", 10, "records per page")
	cmd.Flags().Bool("all", false, "list every record without paging")
	return cmd
}

func newDeleteCmd(kind model.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>...",
		Short: "Delete " + kind.String() + "s that no workflow references",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				code, err := parseCode(arg)
				if err != nil {
					return err
				}
				if err := regClient.Delete(context.Background(), kind, code); err != nil {
					if errors.Is(err, model.ErrInUse) {
						return fmt.Errorf("%s %d is still referenced; run 'ctxreg %s show %d' to see by whom",
							kind, code, cmd.Parent().Name(), code)
					}
					return fmt.Errorf("deleting %s %d: %w", kind, code, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %d\n", kind, code)
			}
			return nil
		},
	}
}

func newVerifyCmd(kind model.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <name>",
		Short: "Check whether a " + kind.String() + " name is free",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := regClient.VerifyName(context.Background(), kind, args[0])
			if err != nil {
				return fmt.Errorf("verifying name: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"available": ok})
			}
			if !ok {
				return fmt.Errorf("%s name %q is already taken", kind, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s name %q is available\n", kind, args[0])
			return nil
		},
	}
}
