package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/config"
	"github.com/aozora-works/kousei-engine/internal/downloader"
	"github.com/aozora-works/kousei-engine/internal/registry"
	"github.com/aozora-works/kousei-engine/internal/storage"
)

// Operator commands that work on the model store directly, without a
// running server. Useful for provisioning a machine before first launch.
var Cmd = &cobra.Command{
	Use:   "models",
	Short: "Manage downloaded models",
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(pullCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(usageCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog models and their local state",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := newDownloader()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tQUANT\tSIZE\tSTATE")
		for _, entry := range registry.List() {
			state := "not downloaded"
			if ok, err := files.IsDownloaded(entry.ID); err == nil && ok {
				state = "ready"
			} else if files.HasPartial(entry.ID) {
				state = "partial"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				entry.ID, entry.Name, entry.Quantization, formatBytes(entry.SizeBytes), state)
		}
		return w.Flush()
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <model-id>",
	Short: "Download a model from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		entry, err := registry.Get(id)
		if err != nil {
			return err
		}

		files := newDownloader()

		progress := mpb.New(
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		)
		bar := progress.AddBar(100,
			mpb.PrependDecorators(
				decor.Name(entry.Filename, decor.WC{W: 40, C: decor.DidentRight}),
				decor.Percentage(),
			),
			mpb.AppendDecorators(
				decor.EwmaETA(decor.ET_STYLE_GO, 90),
			),
		)

		last := time.Now()
		err = files.Download(cmd.Context(), id, func(percent int) {
			now := time.Now()
			bar.EwmaSetCurrent(int64(percent), now.Sub(last))
			last = now
		})
		if err != nil {
			bar.Abort(true)
			return err
		}

		bar.SetCurrent(100)
		progress.Wait()
		fmt.Println("Download complete:", files.FinalPath(entry))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <model-id>",
	Short: "Delete a downloaded model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newDownloader().Delete(args[0])
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show disk usage of downloaded models",
	RunE: func(cmd *cobra.Command, args []string) error {
		usage := storage.Report(config.GetConfig().ModelsDir)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSIZE")
		for _, m := range usage.Models {
			fmt.Fprintf(w, "%s\t%s\n", m.ID, formatBytes(m.SizeBytes))
		}
		fmt.Fprintf(w, "total\t%s\n", formatBytes(usage.UsedBytes))
		return w.Flush()
	},
}

func newDownloader() *downloader.Downloader {
	return downloader.New(config.GetConfig().ModelsDir, zap.NewNop(), nil)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
