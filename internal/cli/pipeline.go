package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineCreateCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineUpdateCmd(clientFn, outputFn),
		newPipelineDeleteCmd(clientFn, outputFn),
		newPipelineActivateCmd(clientFn, outputFn),
		newPipelineDeactivateCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "ACTIVE", "CREATED"}
			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{p.ID, p.Name, strconv.FormatBool(p.IsActive), compactTime(p.CreatedAt)}
			}

			out.Print(headers, rows, pipelines)
			return nil
		},
	}
}

func newPipelineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a pipeline from a YAML spec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %w", err)
			}

			pipeline, err := client.CreatePipeline(data)
			if err != nil {
				return err
			}

			out.Successf("Pipeline created: %s", pipeline.ID)
			out.Detail([][2]string{
				{"ID", pipeline.ID},
				{"Name", pipeline.Name},
				{"Active", strconv.FormatBool(pipeline.IsActive)},
				{"Created", compactTime(pipeline.CreatedAt)},
			}, pipeline)
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "spec-file", "", "Path to pipeline YAML file (required)")
	cmd.MarkFlagRequired("spec-file")

	return cmd
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.GetPipeline(args[0])
			if err != nil {
				return err
			}

			out.Detail([][2]string{
				{"ID", pipeline.ID},
				{"Name", pipeline.Name},
				{"Active", strconv.FormatBool(pipeline.IsActive)},
				{"Created", compactTime(pipeline.CreatedAt)},
			}, pipeline)
			return nil
		},
	}
}

func newPipelineUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Replace a pipeline spec with a new YAML version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %w", err)
			}

			pipeline, err := client.UpdatePipelineSpec(args[0], data)
			if err != nil {
				return err
			}

			out.Successf("Pipeline updated")
			out.Detail([][2]string{
				{"ID", pipeline.ID},
				{"Name", pipeline.Name},
				{"Active", strconv.FormatBool(pipeline.IsActive)},
				{"Created", compactTime(pipeline.CreatedAt)},
			}, pipeline)
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "spec-file", "", "Path to pipeline YAML file (required)")
	cmd.MarkFlagRequired("spec-file")

	return cmd
}

func newPipelineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeletePipeline(args[0]); err != nil {
				return err
			}

			out.Successf("Pipeline deleted: %s", args[0])
			return nil
		},
	}
}

func newPipelineActivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "activate ID",
		Short: "Activate a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if _, err := client.SetPipelineActive(args[0], true); err != nil {
				return err
			}

			out.Successf("Pipeline activated: %s", args[0])
			return nil
		},
	}
}

func newPipelineDeactivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate ID",
		Short: "Deactivate a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if _, err := client.SetPipelineActive(args[0], false); err != nil {
				return err
			}

			out.Successf("Pipeline deactivated: %s", args[0])
			return nil
		},
	}
}
