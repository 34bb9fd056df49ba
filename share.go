package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/anonfs/anonfs-go/internal/directory"
	"github.com/anonfs/anonfs-go/internal/share"
	"github.com/anonfs/anonfs-go/internal/vault"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share <file-id> <email>",
		Short: "Share one of your files with another user",
		Long: `Share one of your files with another user, identified by email.
Permission is view-only unless --permission edit is given. Grants are
permanent unless --expires is set, which limits the grant to 24 hours.`,
		Args: cobra.ExactArgs(2),
		RunE: runShare,
	}

	cmd.Flags().String("permission", "view", "access level to grant (view or edit)")
	cmd.Flags().Bool("expires", false, "limit the grant to 24 hours")

	return cmd
}

func runShare(cmd *cobra.Command, args []string) error {
	fileID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid file id %q", args[0])
	}

	email := args[1]
	permission, _ := cmd.Flags().GetString("permission")
	expires, _ := cmd.Flags().GetBool("expires")

	perm := vault.Permission(permission)
	if !perm.Valid() {
		return fmt.Errorf("invalid permission %q (want view or edit)", permission)
	}

	logger := buildLogger()

	_, client, dir, err := buildDirectory(logger)
	if err != nil {
		return err
	}

	wf := share.New(client, func(ctx context.Context) error {
		_, listErr := dir.List(ctx, directory.ViewOwned)
		return listErr
	}, logger)

	wf.SetFileID(fileID)
	wf.SetRecipient(email)
	wf.SetPermission(perm)
	wf.SetExpires(expires)

	if err := wf.Submit(cmd.Context()); err != nil {
		switch {
		case errors.Is(err, share.ErrNoRecipient):
			return fmt.Errorf("recipient email is required")
		case errors.Is(err, share.ErrShareRejected):
			return err
		case errors.Is(err, vault.ErrUnreachable):
			return fmt.Errorf("could not reach the vault at %s", resolvedCfg.ServerURL)
		default:
			return fmt.Errorf("share failed: %w", err)
		}
	}

	if expires {
		statusf("Shared file %d with %s (%s, expires in 24h).\n", fileID, email, perm)
	} else {
		statusf("Shared file %d with %s (%s).\n", fileID, email, perm)
	}

	return nil
}
