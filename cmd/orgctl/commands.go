package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"inclusion-platform/backend/internal/organization/service"
)

// opener builds the service a command runs against; tests pass an in-memory one.
type opener func() (*service.Service, func(), error)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "orgctl",
		Short:         "Manage the organizations staff can join",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCreateCmd(open), newImportCmd(open), newListCmd(open), newDeactivateCmd(open))
	return root
}

func newCreateCmd(open opener) *cobra.Command {
	var in service.CreateInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create one organization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			o, err := svc.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", o.ID, o.Name, o.Kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "organization name")
	cmd.Flags().StringVar(&in.Kind, "kind", "", "organization kind (EI, ACI, ML, PE, ...)")
	cmd.Flags().StringVar(&in.Siret, "siret", "", "14-digit SIRET")
	cmd.Flags().StringVar(&in.AuthEmail, "auth-email", "", "address receiving signup links while the organization has no member")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newImportCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE.csv",
		Short: "Create organizations from a CSV file (name, kind, siret, auth_email)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			svc, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			report, err := svc.ImportCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created %d, skipped %d, failed %d\n", len(report.Created), report.Skipped, len(report.Failed))
			lines := make([]int, 0, len(report.Failed))
			for line := range report.Failed {
				lines = append(lines, line)
			}
			sort.Ints(lines)
			for _, line := range lines {
				fmt.Fprintf(out, "line %d: %v\n", line, report.Failed[line])
			}
			return nil
		},
	}
}

func newListCmd(open opener) *cobra.Command {
	var (
		category string
		limit    int32
		offset   int32
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizations by name",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			orgs, err := svc.List(cmd.Context(), category, limit, offset)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tKIND\tSIRET\tSTATUS\tSECRET CODE")
			for _, o := range orgs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.ID, o.Name, o.Kind, o.Siret, o.Status, o.SecretCode)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "siae, prescriber or institution")
	cmd.Flags().Int32Var(&limit, "limit", 50, "page size")
	cmd.Flags().Int32Var(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newDeactivateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate ORG_ID",
		Short: "Deactivate an organization and invalidate its outstanding signup links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			if err := svc.Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", args[0])
			return nil
		},
	}
}
