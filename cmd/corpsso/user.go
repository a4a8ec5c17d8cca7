package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dpleshakov/corpsso/internal/roles"
	"github.com/dpleshakov/corpsso/internal/session"
)

// envNewUserPassword supplies the password of `user add` when --password is not given.
const envNewUserPassword = "CORPSSO_NEW_USER_PASSWORD"

func newUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var role, password string
	add := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a username/password account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := roles.Parse(role)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv(envNewUserPassword)
			}
			if password == "" {
				return fmt.Errorf("password is required: pass --password or set %s", envNewUserPassword)
			}

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.accounts.AddManualUser(cmd.Context(), args[0], password, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", u.Username, u.Role, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(roles.Guest), "role of the new account")
	add.Flags().StringVar(&password, "password", "", "password (at least 12 characters)")

	var corporationID int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.accounts.List(cmd.Context(), corporationID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMETHOD\tROLE\tCORPORATION\tACTIVE\tSESSION")
			for _, u := range users {
				name := u.Username
				if u.AuthMethod == session.AuthESI {
					name = u.CharacterName
				}
				sess := "-"
				if a.sessions.IsValid(u) {
					sess = "until " + u.SessionExpiry.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					u.ID, name, u.AuthMethod, u.Role, u.CorporationName, u.IsActive, sess)
			}
			return tw.Flush()
		},
	}
	list.Flags().Int64Var(&corporationID, "corp", 0, "only members of this corporation")

	cmd.AddCommand(add, list)
	return cmd
}
