package commands

import (
	"github.com/leapstack-labs/csvchat/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewBlobsCommand creates the blobs command.
func NewBlobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blobs",
		Short: "Inspect the blob store",
		Long: `Inspect the blob store holding uploaded files.

Blobs are keyed by file name and outlive the sessions that use them.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored files",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)

			blobs, err := openBlobs(cmd.Context(), cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = blobs.Close() }()

			infos, err := blobs.List(cmd.Context())
			if err != nil {
				return err
			}

			if cc.Renderer.Mode() == output.ModeJSON {
				return cc.Renderer.JSON(infos)
			}
			rows := make([][]any, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []any{info.Name, info.Size})
			}
			cc.Renderer.Table([]string{"Name", "Bytes"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "delete <name>...",
		Aliases: []string{"rm"},
		Short:   "Delete stored files",
		Long: `Delete stored files. Sessions bound to a deleted file become
unrecoverable once the runtime no longer holds it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)

			blobs, err := openBlobs(cmd.Context(), cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = blobs.Close() }()

			for _, name := range args {
				if err := blobs.Delete(cmd.Context(), name); err != nil {
					return err
				}
				cc.Renderer.Successf("Deleted %s", name)
			}
			return nil
		},
	})

	return cmd
}
