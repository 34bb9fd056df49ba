package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/anonfs/anonfs-go/internal/directory"
	"github.com/anonfs/anonfs-go/internal/session"
	"github.com/anonfs/anonfs-go/internal/transfer"
	"github.com/anonfs/anonfs-go/internal/vault"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files in the vault",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}

	cmd.Flags().Bool("shared", false, "list files shared with you instead of your own")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <file-id> [local-path]",
		Short: "Download a file",
		Long: `Download a file by id. When no local path is given the file is saved
under its original name in the current directory.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runPut,
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics for your files",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

// openCache opens the listing cache, creating the data directory on first
// use. Cache failures are never fatal — listing still works live.
func openCache(logger *slog.Logger) *directory.Cache {
	if err := os.MkdirAll(resolvedCfg.DataDir, 0o700); err != nil {
		logger.Warn("creating data directory failed", "error", err.Error())
		return nil
	}

	cache, err := directory.NewCache(resolvedCfg.CachePath(), logger)
	if err != nil {
		logger.Warn("opening listing cache failed", "error", err.Error())
		return nil
	}

	return cache
}

// buildDirectory wires the session, client, and directory for the file
// commands. The cache lives for the process; commands exit soon after.
func buildDirectory(logger *slog.Logger) (*session.Store, *vault.Client, *directory.Directory, error) {
	store, client := buildClients(logger)

	if _, err := requireSession(store); err != nil {
		return nil, nil, nil, err
	}

	dir := directory.New(client, openCache(logger), logger)

	return store, client, dir, nil
}

func runLs(cmd *cobra.Command, _ []string) error {
	shared, _ := cmd.Flags().GetBool("shared")

	view := directory.ViewOwned
	if shared {
		view = directory.ViewShared
	}

	logger := buildLogger()

	_, _, dir, err := buildDirectory(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	files, err := dir.List(ctx, view)
	if err != nil {
		// Offline fallback: show the last cached listing when the vault
		// is unreachable.
		if errors.Is(err, vault.ErrUnreachable) {
			cached, cacheErr := dir.Cached(ctx, view)
			if cacheErr == nil && cached != nil {
				statusf("Vault unreachable — showing cached listing.\n")
				return printFiles(cached, view)
			}
		}

		return fmt.Errorf("listing files: %w", err)
	}

	return printFiles(files, view)
}

// lsJSONItem is the JSON output schema for a single file in ls output.
type lsJSONItem struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Owner     string `json:"owner,omitempty"`
	CreatedAt string `json:"created_at"`
}

func printFiles(files []vault.FileResource, view directory.View) error {
	if flagJSON {
		out := make([]lsJSONItem, 0, len(files))
		for i := range files {
			item := lsJSONItem{
				ID:        files[i].ID,
				Name:      files[i].OriginalName,
				Size:      files[i].FileSize,
				CreatedAt: files[i].CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}

			if view == directory.ViewShared {
				item.Owner = files[i].OwnerUsername
			}

			out = append(out, item)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if view == directory.ViewShared {
		headers := []string{"ID", "NAME", "OWNER", "CREATED"}
		rows := make([][]string, 0, len(files))

		for i := range files {
			rows = append(rows, []string{
				strconv.FormatInt(files[i].ID, 10),
				files[i].OriginalName,
				files[i].OwnerUsername,
				formatTime(files[i].CreatedAt),
			})
		}

		printTable(os.Stdout, headers, rows)

		return nil
	}

	headers := []string{"ID", "NAME", "SIZE", "CREATED"}
	rows := make([][]string, 0, len(files))

	for i := range files {
		rows = append(rows, []string{
			strconv.FormatInt(files[i].ID, 10),
			files[i].OriginalName,
			formatSize(files[i].FileSize),
			formatTime(files[i].CreatedAt),
		})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	fileID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid file id %q", args[0])
	}

	logger := buildLogger()

	_, client, dir, err := buildDirectory(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	destPath := ""
	if len(args) > 1 {
		destPath = args[1]
	} else {
		destPath = resolveDownloadName(ctx, dir, fileID)
	}

	orch := transfer.New(client, nil, logger)

	n, err := orch.Download(ctx, fileID, destPath)
	if err != nil {
		return errors.New(transfer.UserMessage(err))
	}

	statusf("Saved %s (%s).\n", destPath, formatSize(n))

	return nil
}

// resolveDownloadName finds the file's original name across both views,
// falling back to a synthetic name when the id is not in either listing.
func resolveDownloadName(ctx context.Context, dir *directory.Directory, fileID int64) string {
	// Best effort — an unreachable listing just means the fallback name.
	_ = dir.Refresh(ctx)

	for _, view := range []directory.View{directory.ViewOwned, directory.ViewShared} {
		for _, f := range dir.Files(view) {
			if f.ID == fileID {
				return filepath.Base(f.OriginalName)
			}
		}
	}

	return fmt.Sprintf("file-%d", fileID)
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	logger := buildLogger()

	_, client, dir, err := buildDirectory(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	// The owned view is re-fetched after every successful upload; the
	// full re-fetch is the consistency mechanism.
	orch := transfer.New(client, func(ctx context.Context) error {
		_, listErr := dir.List(ctx, directory.ViewOwned)
		return listErr
	}, logger)

	res, err := orch.Upload(ctx, localPath)
	if err != nil {
		if errors.Is(err, vault.ErrUnreachable) {
			return fmt.Errorf("could not reach the vault at %s", resolvedCfg.ServerURL)
		}

		return fmt.Errorf("upload failed: %w", err)
	}

	stats := dir.Stats()
	statusf("Uploaded %s (id %d, %s). You now store %d files, %s total.\n",
		res.OriginalName, res.ID, formatSize(res.FileSize),
		stats.Count, formatSize(stats.TotalSize))

	return nil
}

// statsOutput is the JSON schema for `stats --json`.
type statsOutput struct {
	Count     int    `json:"count"`
	TotalSize int64  `json:"total_size"`
	Human     string `json:"total_size_human"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	_, _, dir, err := buildDirectory(logger)
	if err != nil {
		return err
	}

	if _, err := dir.List(cmd.Context(), directory.ViewOwned); err != nil {
		return fmt.Errorf("fetching owned files: %w", err)
	}

	stats := dir.Stats()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(statsOutput{
			Count:     stats.Count,
			TotalSize: stats.TotalSize,
			Human:     formatSize(stats.TotalSize),
		})
	}

	fmt.Printf("Files: %d\n", stats.Count)
	fmt.Printf("Total: %s\n", formatSize(stats.TotalSize))

	return nil
}
