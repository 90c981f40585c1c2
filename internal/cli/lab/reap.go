package lab

import (
	"time"

	"github.com/spf13/cobra"
	"labctl/internal/aws/common"
	lab2 "labctl/internal/aws/lab"
	"labctl/internal/logging"
)

var reapDryRun bool

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Tear down every lab whose ttl has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkProvider(); err != nil {
			return err
		}
		regionList, err := regions()
		if err != nil {
			return err
		}

		reaped, reports, err := lab2.Reap(cmd.Context(), regionList, time.Now(), reapDryRun, poller())
		if len(reaped) == 0 && err == nil {
			logging.UserInfo("No expired labs")
			return nil
		}
		if rows := lab2.ReportRows(reports); len(rows) > 0 {
			common.RenderTable(lab2.ReportHeader, rows)
		}
		if err != nil {
			logging.UserFailure("Reaping failed, some resources were left behind")
			return err
		}
		logging.UserSuccess("Reaped %d expired lab(s)", len(reaped))
		return nil
	},
}

func init() {
	reapCmd.Flags().BoolVar(&reapDryRun, "dry-run", false, "only print what would be deleted")
}
