package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Tsuuko/antigravity-usage/internal/accounts"
	"github.com/Tsuuko/antigravity-usage/internal/config"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage cloud API accounts",
	}
	cmd.AddCommand(newAccountsListCmd(), newAccountsAddCmd(), newAccountsRemoveCmd())
	return cmd
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			accts, err := accounts.Load(cfg.AccountsPath, cfg.Passphrase)
			if err != nil {
				if errors.Is(err, accounts.ErrNoAccounts) {
					fmt.Println("No accounts configured. Add one with `antigravity-usage accounts add`.")
					return nil
				}
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEMAIL\tSTATUS")
			for _, a := range accts {
				status := "enabled"
				if a.Disabled {
					status = "disabled"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.Email, status)
			}
			w.Flush()
			return nil
		},
	}
}

func newAccountsAddCmd() *cobra.Command {
	var name, email, token string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			accts, err := accounts.Load(cfg.AccountsPath, cfg.Passphrase)
			if err != nil && !errors.Is(err, accounts.ErrNoAccounts) {
				return err
			}

			acct := accounts.Account{Name: name, Email: email, AccessToken: token}
			replaced := false
			for i := range accts {
				if strings.EqualFold(accts[i].Name, name) {
					accts[i] = acct
					replaced = true
					break
				}
			}
			if !replaced {
				accts = append(accts, acct)
			}

			if err := accounts.Save(cfg.AccountsPath, accts, cfg.Passphrase); err != nil {
				return err
			}
			fmt.Printf("Saved account %q (%d total).\n", name, len(accts))
			if cfg.Passphrase == "" {
				fmt.Println("Note: token stored in plain text. Set ANTIGRAVITY_PASSPHRASE to encrypt it.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "account name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&token, "token", "", "cloud API access token")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("token")
	return cmd
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			accts, err := accounts.Load(cfg.AccountsPath, cfg.Passphrase)
			if err != nil {
				return err
			}

			kept := accts[:0]
			for _, a := range accts {
				if !strings.EqualFold(a.Name, args[0]) {
					kept = append(kept, a)
				}
			}
			if len(kept) == len(accts) {
				return fmt.Errorf("no account named %q", args[0])
			}

			if err := accounts.Save(cfg.AccountsPath, kept, cfg.Passphrase); err != nil {
				return err
			}
			fmt.Printf("Removed account %q.\n", args[0])
			return nil
		},
	}
}
