package cmd

import (
	"fmt"

	"db-snap/internal/sink"

	"github.com/spf13/cobra"
)

var verifyMetadata string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a script against the checksum in its metadata sidecar",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := sink.ReadMetadata(verifyMetadata)
		if err != nil {
			return err
		}

		path := m.Script.Path
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("metadata %s does not name a script; pass its path as an argument", verifyMetadata)
		}

		sum, size, err := sink.ChecksumFile(path, m.Script.Compressed)
		if err != nil {
			return err
		}

		got := sink.FormatChecksum(sum)
		logger.Debug().Str("script", path).Str("checksum", got).Int64("size", size).Msg("script read")
		if got != m.Script.Checksum || size != m.Script.Size {
			return fmt.Errorf("%s does not match its metadata: checksum %s (want %s), size %d (want %d)",
				path, got, m.Script.Checksum, size, m.Script.Size)
		}

		fmt.Printf("✓ %s matches %s (%s, %s)\n", path, verifyMetadata, got, humanBytes(size))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyMetadata, "metadata", "", "metadata sidecar written by dump")
	verifyCmd.MarkFlagRequired("metadata")
}
