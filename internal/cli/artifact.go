package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewArtifactCmd создаёт группу команд для работы с артефактами.
func NewArtifactCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Manage run artifacts",
	}

	cmd.AddCommand(
		newArtifactListCmd(clientFn, outputFn),
		newArtifactDownloadCmd(clientFn, outputFn),
		newArtifactUploadCmd(clientFn, outputFn),
	)

	return cmd
}

func newArtifactListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list RUN_ID",
		Short: "List artifacts of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			artifacts, err := client.ListArtifacts(args[0])
			if err != nil {
				return err
			}

			headers := []string{"NAME", "SIZE", "EXECUTION_ID", "CREATED"}
			rows := make([][]string, len(artifacts))
			for i, a := range artifacts {
				rows[i] = []string{a.Name, strconv.FormatInt(a.Size, 10), a.ExecutionID, compactTime(a.CreatedAt)}
			}

			out.Print(headers, rows, artifacts)
			return nil
		},
	}
}

func newArtifactDownloadCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "download RUN_ID NAME",
		Short: "Download an artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			dest := os.Stdout
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				dest = f
			}

			n, err := client.DownloadArtifact(args[0], args[1], dest)
			if err != nil {
				return err
			}

			if outFile != "" {
				out.Successf("Downloaded %s (%d bytes) to %s", args[1], n, outFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

func newArtifactUploadCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var executionID string
	var file string

	cmd := &cobra.Command{
		Use:   "upload RUN_ID NAME",
		Short: "Upload an artifact on behalf of an execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}

			artifact, err := client.UploadArtifact(args[0], args[1], executionID, f, info.Size())
			if err != nil {
				return err
			}

			out.Successf("Artifact uploaded: %s (%d bytes)", artifact.Name, artifact.Size)
			return nil
		},
	}

	cmd.Flags().StringVar(&executionID, "execution-id", "", "Execution that produced the artifact (required)")
	cmd.Flags().StringVar(&file, "file", "", "Path to the file to upload (required)")
	cmd.MarkFlagRequired("execution-id")
	cmd.MarkFlagRequired("file")

	return cmd
}
