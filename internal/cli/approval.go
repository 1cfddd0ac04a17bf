package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewApprovalCmd создаёт группу команд для работы с гейтами окружений.
func NewApprovalCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Manage environment gate approvals",
	}

	cmd.AddCommand(
		newApprovalApproveCmd(clientFn, outputFn),
		newApprovalRejectCmd(clientFn, outputFn),
		newApprovalListCmd(clientFn, outputFn),
	)

	return cmd
}

func newApprovalApproveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var approver string
	var reason string

	cmd := &cobra.Command{
		Use:   "approve EXECUTION_ID",
		Short: "Approve an execution waiting at a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			err := client.ApproveExecution(args[0], ApprovalRequest{
				Approver: approver,
				Reason:   reason,
			})
			if err != nil {
				return err
			}

			out.Successf("Approval submitted for execution %s", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "Who approves (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Optional comment")
	cmd.MarkFlagRequired("approver")

	return cmd
}

func newApprovalRejectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var approver string
	var reason string

	cmd := &cobra.Command{
		Use:   "reject EXECUTION_ID",
		Short: "Reject an execution waiting at a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			err := client.RejectExecution(args[0], ApprovalRequest{
				Approver: approver,
				Reason:   reason,
			})
			if err != nil {
				return err
			}

			out.Successf("Rejection submitted for execution %s", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "Who rejects (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason (required)")
	cmd.MarkFlagRequired("approver")
	cmd.MarkFlagRequired("reason")

	return cmd
}

func newApprovalListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list EXECUTION_ID",
		Short: "List recorded decisions for an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			approvals, err := client.ListApprovals(args[0])
			if err != nil {
				return err
			}

			headers := []string{"APPROVER", "APPROVED", "REASON", "AT"}
			rows := make([][]string, len(approvals))
			for i, a := range approvals {
				rows[i] = []string{a.Approver, strconv.FormatBool(a.Approved), a.Reason, compactTime(a.CreatedAt)}
			}

			out.Print(headers, rows, approvals)
			return nil
		},
	}
}
