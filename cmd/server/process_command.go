package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/config"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/jobqueue"
)

func newProcessCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "process <file.csv>",
		Short: "Record and enrich a CSV in the foreground, then print the upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}
			if !strings.EqualFold(filepath.Ext(absPath), ".csv") {
				return fmt.Errorf("unsupported file extension %q", filepath.Ext(absPath))
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			upload, err := a.store.CreateUpload(ctx, absPath, time.Now())
			if err != nil {
				return err
			}
			if err := a.worker.Process(ctx, jobqueue.Command{UploadID: upload.ID, FilePath: absPath}); err != nil {
				return err
			}

			upload, err = a.store.GetUpload(ctx, upload.ID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(upload); err != nil {
				return err
			}
			if upload.Status == core.StatusFailed {
				return fmt.Errorf("upload %d failed: %s", upload.ID, upload.Message)
			}
			return nil
		},
	}
}
