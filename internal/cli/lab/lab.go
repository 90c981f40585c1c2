package lab

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"labctl/internal/env"
	"labctl/internal/lab"
)

var Lab = &cobra.Command{
	Use:   "lab [command] [flags]",
	Short: "Lab operations",
	Run: func(c *cobra.Command, _ []string) {
		if err := c.Help(); err != nil {
			log.Debug().Msgf("ignoring cobra error %q", err.Error())
		}
	},
	SilenceUsage: true,
	Aliases:      []string{"labs"},
}

func init() {
	Lab.AddCommand(createCmd)
	Lab.AddCommand(destroyCmd)
	Lab.AddCommand(listCmd)
	Lab.AddCommand(reapCmd)
	Lab.AddCommand(blueprintsCmd)
	Lab.AddCommand(renderCmd)
}

func checkProvider() error {
	if env.Config.Provider != "aws" {
		return errors.Errorf("cloud provider '%s' is not supported with this action", env.Config.Provider)
	}
	return nil
}

// regions returns the regions given with --region, falling back to the
// region of the AWS environment.
func regions() ([]string, error) {
	if len(env.Config.Regions) > 0 {
		return env.Config.Regions, nil
	}
	for _, name := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if region := os.Getenv(name); region != "" {
			env.Config.Region = region
			return []string{region}, nil
		}
	}
	return nil, errors.New("a region is required, use --region")
}

func poller() lab.Poller {
	p := lab.DefaultPoller()
	if env.Config.WaitAttempts > 0 {
		p.Attempts = env.Config.WaitAttempts
	}
	if env.Config.WaitDelay > 0 {
		p.Delay = env.Config.WaitDelay
	}
	return p
}
