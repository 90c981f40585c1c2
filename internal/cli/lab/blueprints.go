package lab

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"labctl/internal/aws/common"
	"labctl/internal/lab"
)

var blueprintsCmd = &cobra.Command{
	Use:   "blueprints",
	Short: "List the builtin blueprints and user data presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := lab.BuiltinNames()
		if err != nil {
			return err
		}
		var rows [][]string
		for _, name := range names {
			bp, err := lab.Load(name)
			if err != nil {
				return err
			}
			rows = append(rows, []string{name, bp.Description, strings.Join(bp.Regions(""), ",")})
		}
		common.RenderTable([]string{"Blueprint", "Description", "Regions"}, rows)
		fmt.Fprintf(cmd.OutOrStdout(), "User data presets: %s\n", strings.Join(lab.UserDataPresets(), ", "))
		return nil
	},
}

var renderBlueprint string

var renderCmd = &cobra.Command{
	Use:   "render [flags]",
	Short: "Print a validated blueprint as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		bp, err := lab.Load(renderBlueprint)
		if err != nil {
			return err
		}
		data, err := bp.Render()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderBlueprint, "blueprint", "b", "", "builtin blueprint name or path to a blueprint file")
	_ = renderCmd.MarkFlagRequired("blueprint")
}
