package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atinyakov/studydeck/internal/client/session"
	"github.com/atinyakov/studydeck/internal/models"
	"github.com/spf13/cobra"
)

var errNotSignedIn = errors.New("not signed in")

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(a.in, a.out)
			var err error
			if email == "" {
				if email, err = p.ask("Email"); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = p.ask("Password"); err != nil {
					return err
				}
			}
			if err := a.provider.Login(cmd.Context(), email, password); err != nil {
				return errors.New(a.provider.LastError())
			}
			return a.printIdentity(a.provider.Identity(), "Signed in as")
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(a.in, a.out)
			var err error
			if email == "" {
				if email, err = p.ask("Email"); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("name") {
				name = p.askOptional("Display name")
			}
			if password == "" {
				if password, err = p.askNewPassword(); err != nil {
					return err
				}
			}
			if err := a.provider.Register(cmd.Context(), email, password, name); err != nil {
				return errors.New(a.provider.LastError())
			}
			return a.printIdentity(a.provider.Identity(), "Registered")
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.provider.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("clear stored token: %w", err)
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user, renewing the session if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.provider.Init(cmd.Context())
			if a.provider.State() != session.StateAuthenticated {
				fmt.Fprintln(a.out, "Not signed in")
				return errNotSignedIn
			}
			return a.printIdentity(a.provider.Identity(), "")
		},
	}
}

func (a *app) printIdentity(id *models.Identity, prefix string) error {
	if id == nil {
		return errNotSignedIn
	}
	if a.jsonOutput {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(id)
	}
	if prefix != "" {
		fmt.Fprintf(a.out, "%s %s <%s>\n", prefix, id.DisplayName, id.Email)
		return nil
	}
	fmt.Fprintf(a.out, `User:        %s <%s>
Role:        %s
Materials:   %d
Flashcards:  %d
Quizzes:     %d
Summaries:   %d
Tokens used: %d
`, id.DisplayName, id.Email, id.Role,
		id.Usage.Materials, id.Usage.Flashcards, id.Usage.Quizzes, id.Usage.Summaries, id.Usage.TokensUsed)
	return nil
}
