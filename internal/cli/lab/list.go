package lab

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"labctl/internal/aws/common"
	lab2 "labctl/internal/aws/lab"
	"labctl/internal/logging"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List labs and their expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkProvider(); err != nil {
			return err
		}
		regionList, err := regions()
		if err != nil {
			return err
		}

		labs, err := lab2.ListLabs(cmd.Context(), regionList)
		if err != nil {
			return err
		}
		if len(labs) == 0 {
			logging.UserInfo("No labs found in %s", strings.Join(regionList, ", "))
			return nil
		}
		common.RenderTable(lab2.LabsHeader, lab2.LabsRows(labs, time.Now()))
		return nil
	},
}
