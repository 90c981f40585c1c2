package lab

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"labctl/internal/aws/common"
	lab2 "labctl/internal/aws/lab"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

var ErrNotConfirmed = errors.New("confirmation did not match, nothing was deleted")

var destroyParams struct {
	name    string
	vpcIds  []string
	vpcName string
	dryRun  bool
	yes     bool
}

// confirm asks the user to type expected back.
func confirm(in io.Reader, out io.Writer, what, expected string) error {
	fmt.Fprintf(out, "This deletes every resource of %s. Type %q to continue: ", what, expected)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "reading confirmation")
	}
	if strings.TrimSpace(answer) != expected {
		return ErrNotConfirmed
	}
	return nil
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [flags]",
	Short: "Tear down a lab, or the VPCs given by id or name",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkProvider(); err != nil {
			logging.UserFailure(err.Error())
			return err
		}
		regionList, err := regions()
		if err != nil {
			return err
		}

		opts := lab2.TeardownOptions{
			LabName: lab.LabName(destroyParams.name),
			VpcIds:  destroyParams.vpcIds,
			VpcName: destroyParams.vpcName,
			Regions: regionList,
			DryRun:  destroyParams.dryRun,
			Poller:  poller(),
		}
		if err = opts.Validate(); err != nil {
			return err
		}

		if !opts.DryRun && !destroyParams.yes {
			what, expected := "lab "+destroyParams.name, destroyParams.name
			switch {
			case len(opts.VpcIds) > 0:
				what, expected = "vpc "+strings.Join(opts.VpcIds, ", "), strings.Join(opts.VpcIds, ",")
			case opts.VpcName != "":
				what, expected = "vpcs named "+opts.VpcName, opts.VpcName
			}
			what += " in " + strings.Join(regionList, ", ")
			if err = confirm(cmd.InOrStdin(), cmd.OutOrStdout(), what, expected); err != nil {
				logging.UserFailure(err.Error())
				return err
			}
		}

		reports, err := lab2.Teardown(cmd.Context(), opts)
		if rows := lab2.ReportRows(reports); len(rows) > 0 {
			common.RenderTable(lab2.ReportHeader, rows)
		}
		if err != nil {
			logging.UserFailure("Destroying failed, some resources were left behind")
			return err
		}
		if opts.DryRun {
			logging.UserSuccess("Dry run finished, nothing was deleted")
		} else {
			logging.UserSuccess("Destroying finished successfully!")
		}
		return nil
	},
}

func init() {
	destroyCmd.Flags().StringVarP(&destroyParams.name, "name", "n", "", "lab name")
	destroyCmd.Flags().StringArrayVar(&destroyParams.vpcIds, "vpc-id", []string{}, "vpc id, may be repeated")
	destroyCmd.Flags().StringVar(&destroyParams.vpcName, "vpc-name", "", "value of the vpc Name tag")
	destroyCmd.Flags().BoolVar(&destroyParams.dryRun, "dry-run", false, "only print what would be deleted")
	destroyCmd.Flags().BoolVarP(&destroyParams.yes, "yes", "y", false, "do not ask for confirmation")
	destroyCmd.MarkFlagsMutuallyExclusive("name", "vpc-id", "vpc-name")
}
