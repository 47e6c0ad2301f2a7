package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mindgrate/backend/pkg/models"
)

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Manage follow requests between MindOps",
}

var followRequestCmd = &cobra.Command{
	Use:   "request MINDOP_ID",
	Short: "Ask to follow another MindOp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		req, err := c.RequestFollow(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "follow request %s is %s\n", req.ID, req.Status)
		return nil
	},
}

var followListCmd = &cobra.Command{
	Use:   "list",
	Short: "List follow requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		direction, _ := cmd.Flags().GetString("direction")
		statusFlag, _ := cmd.Flags().GetString("status")
		var status models.FollowStatus
		if statusFlag != "" {
			if status, err = models.ParseFollowStatus(statusFlag); err != nil {
				return err
			}
		}
		reqs, err := c.ListFollowRequests(cmd.Context(), models.FollowDirection(direction), status)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREQUESTER\tTARGET\tSTATUS\tCREATED")
		for _, r := range reqs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.RequesterMindOpID, r.TargetMindOpID, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

func decideCmd(use, short string, approve bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " REQUEST_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			req, err := c.DecideFollow(cmd.Context(), args[0], approve)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "follow request %s is %s\n", req.ID, req.Status)
			return nil
		},
	}
}

func init() {
	followListCmd.Flags().String("direction", string(models.FollowIncoming), "incoming or outgoing")
	followListCmd.Flags().String("status", "", "Only list requests with this status")
	followCmd.AddCommand(
		followRequestCmd,
		followListCmd,
		decideCmd("approve", "Approve an incoming follow request", true),
		decideCmd("reject", "Reject an incoming follow request", false),
	)
}
