package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dpleshakov/corpsso/internal/sso"
)

func newCorpCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corp",
		Short: "Manage registered corporations",
	}

	var scope string
	register := &cobra.Command{
		Use:   "register CORPORATION_ID NAME",
		Short: "Register a corporation, or reactivate it if it exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCorporationID(args[0])
			if err != nil {
				return err
			}
			st, err := sso.ParseScopeType(scope)
			if err != nil {
				return err
			}
			scopes, _ := sso.ScopesFor(st)

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := a.registry.Register(cmd.Context(), id, args[1], scopes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%d) with %d scopes\n", cfg.CorporationName, cfg.CorporationID, len(cfg.RegisteredScopes))
			return nil
		},
	}
	register.Flags().StringVar(&scope, "scope", string(sso.ScopeBasic), "scope tier: basic, enhanced or corporation")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered corporations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			corps, err := a.registry.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tAUTO\tREGISTERED\tLAST REFRESH")
			for _, c := range corps {
				last := "-"
				if !c.LastTokenRefresh.IsZero() {
					last = c.LastTokenRefresh.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%d\t%s\t%t\t%t\t%s\t%s\n",
					c.CorporationID, c.CorporationName, c.IsActive, c.AutoRegistered,
					c.RegistrationDate.Format("2006-01-02"), last)
			}
			return tw.Flush()
		},
	}

	deactivate := &cobra.Command{
		Use:   "deactivate CORPORATION_ID",
		Short: "Revoke access for a corporation and end its members' sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCorporationID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ended, err := a.registry.Deactivate(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %d, %d sessions ended\n", id, ended)
			return nil
		},
	}

	activate := &cobra.Command{
		Use:   "activate CORPORATION_ID",
		Short: "Restore access for a deactivated corporation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCorporationID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.Activate(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "activated %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(register, list, deactivate, activate)
	return cmd
}

func parseCorporationID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid corporation id %q", s)
	}
	return id, nil
}
