package lab

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"labctl/internal/aws/common"
	lab2 "labctl/internal/aws/lab"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

var createParams struct {
	blueprint string
	name      string
	ttl       time.Duration
	rollback  bool
	tags      []string
}

var createCmd = &cobra.Command{
	Use:   "create [flags]",
	Short: "Provision a lab from a blueprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkProvider(); err != nil {
			logging.UserFailure(err.Error())
			return err
		}
		regionList, err := regions()
		if err != nil {
			return err
		}
		if len(regionList) > 1 {
			return errors.New("lab create takes a single --region, blueprint vpcs name their own regions")
		}

		bp, err := lab.Load(createParams.blueprint)
		if err != nil {
			return err
		}
		extraTags, err := lab.ParseTags(createParams.tags)
		if err != nil {
			return err
		}

		labName := lab.LabName(createParams.name)
		logging.UserProgress("Provisioning lab %s from blueprint %s", labName, bp.Name)
		outputs, err := lab2.Provision(cmd.Context(), bp, lab2.Options{
			LabName:   labName,
			Region:    regionList[0],
			TTL:       createParams.ttl,
			Rollback:  createParams.rollback,
			Poller:    poller(),
			ExtraTags: extraTags,
		})
		if outputs != nil && len(outputs.Records) > 0 && err == nil {
			common.RenderTable(lab.OutputsHeader, outputs.Rows())
		}
		if err != nil {
			logging.UserFailure("Provisioning of lab %s failed", labName)
			return err
		}
		logging.UserSuccess("Lab %s is ready", labName)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&createParams.blueprint, "blueprint", "b", "", "builtin blueprint name or path to a blueprint file")
	createCmd.Flags().StringVarP(&createParams.name, "name", "n", "", "lab name, prefixes every resource name")
	createCmd.Flags().DurationVar(&createParams.ttl, "ttl", 0, "time after which `lab reap` removes the lab (0 keeps it)")
	createCmd.Flags().BoolVar(&createParams.rollback, "rollback", false, "tear the lab down again when provisioning fails")
	createCmd.Flags().StringArrayVarP(&createParams.tags, "tags", "t", []string{}, "extra resource tags, each tag should be passed in this pattern: '-t key=value'")
	_ = createCmd.MarkFlagRequired("blueprint")
	_ = createCmd.MarkFlagRequired("name")
}
