package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pollstore/config"
	"pollstore/pkg/poll"
	"pollstore/storage"
)

func ownerFlag(cmd *cobra.Command, owner *string) {
	cmd.Flags().StringVar(owner, "owner", "", "Owner (user) id")
	cmd.MarkFlagRequired("owner")
}

func saveCmd(a *app) *cobra.Command {
	var (
		owner   string
		answers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "save <poll-name>",
		Short: "Save the answers of a poll",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, _ *config.Config, store storage.Storage) error {
			polls := poll.New(store, storage.OwnerID(owner))
			rec, err := polls.Save(cmd.Context(), args[0], answers)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		}),
	}

	ownerFlag(cmd, &owner)
	cmd.Flags().StringToStringVar(&answers, "answer", nil, "Answer as question=answer, repeatable")

	return cmd
}

func fetchCmd(a *app) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "fetch <poll-name>",
		Short: "Print the saved answers of a poll as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, _ *config.Config, store storage.Storage) error {
			polls := poll.New(store, storage.OwnerID(owner))
			answers, found, err := polls.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "(nil)")
				return nil
			}

			data, err := json.Marshal(answers)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}),
	}

	ownerFlag(cmd, &owner)

	return cmd
}

func existsCmd(a *app) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "exists <poll-name>",
		Short: "Tell whether the owner answered a poll",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, _ *config.Config, store storage.Storage) error {
			polls := poll.New(store, storage.OwnerID(owner))
			ok, err := polls.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		}),
	}

	ownerFlag(cmd, &owner)

	return cmd
}

type backuper interface {
	Backup(ctx context.Context, path string) error
}

func backupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Write a backup of the badger database",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, cfg *config.Config, store storage.Storage) error {
			b, ok := store.(backuper)
			if !ok {
				return fmt.Errorf("backend %q does not support backups", cfg.Storage.Backend)
			}
			if err := b.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		}),
	}
}
