package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"labctl/internal/cli/lab"
	"labctl/internal/cli/version"
	"labctl/internal/env"
	lab2 "labctl/internal/lab"
)

var rootCmd = &cobra.Command{
	Use:   "labctl [group] [command] [flags]",
	Short: "Provision and tear down AWS networking labs",
	Run: func(c *cobra.Command, _ []string) {
		if err := c.Help(); err != nil {
			log.Debug().Msgf("ignoring cobra error %q", err.Error())
		}
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if len(env.Config.Regions) > 0 {
			env.Config.Region = env.Config.Regions[0]
		}
		if env.Config.WaitAttempts < 1 {
			return errors.Errorf("--wait-attempts must be positive, got %d", env.Config.WaitAttempts)
		}
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Debug().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

func Find(array []string, val string) bool {
	for _, item := range array {
		if item == val {
			return true
		}
	}
	return false
}

func Usage(cmd *cobra.Command) error {
	if cmd == nil {
		return errors.Errorf("nil command")
	}

	usage := []string{fmt.Sprintf("Usage: %s", cmd.UseLine())}
	cmdPath := cmd.CommandPath()
	groups := []string{"lab"}

	if cmdPath == "labctl" {
		usage = append(usage, "\nGroups:")
		for _, subCommand := range cmd.Commands() {
			if Find(groups, subCommand.Name()) {
				usage = append(usage, fmt.Sprintf("  %s %-30s  %s", cmd.CommandPath(), subCommand.Name(), subCommand.Short))
			}
		}
	}

	usage = append(usage, "\nCommands:")
	for _, subCommand := range cmd.Commands() {
		if !subCommand.Hidden && !Find(groups, subCommand.Name()) {
			usage = append(usage, fmt.Sprintf("  %s %-30s  %s", cmd.CommandPath(), subCommand.Name(), subCommand.Short))
		}
	}

	if len(cmd.Aliases) > 0 {
		usage = append(usage, "\nAliases: "+cmd.NameAndAliases())
	}

	if len(cmd.LocalNonPersistentFlags().FlagUsages()) != 0 {
		usage = append(usage, "\nFlags:")
		usage = append(usage, strings.TrimRightFunc(cmd.LocalNonPersistentFlags().FlagUsages(), unicode.IsSpace))
	}

	usage = append(usage, "\nCommon flags:")
	if len(cmd.PersistentFlags().FlagUsages()) != 0 {
		usage = append(usage, strings.TrimRightFunc(cmd.PersistentFlags().FlagUsages(), unicode.IsSpace))
	}
	if len(cmd.InheritedFlags().FlagUsages()) != 0 {
		usage = append(usage, strings.TrimRightFunc(cmd.InheritedFlags().FlagUsages(), unicode.IsSpace))
	}

	if cmdPath == "labctl" {
		cmdPath += " [group]"
	} else {
		cmdPath += " [command]"
	}
	usage = append(usage, fmt.Sprintf("\nUse '%s --help' for more information about a command.\n", cmdPath))

	cmd.Println(strings.Join(usage, "\n"))

	return nil
}

func init() {
	rootCmd.AddCommand(lab.Lab)
	rootCmd.AddCommand(version.Version)

	rootCmd.PersistentFlags().BoolP("help", "h", false, "help for this command")
	rootCmd.PersistentFlags().StringVarP(&env.Config.Provider, "provider", "c", "aws", "Cloud provider")
	rootCmd.PersistentFlags().StringArrayVarP(&env.Config.Regions, "region", "r", []string{}, "Region, may be repeated for commands that span regions")
	rootCmd.PersistentFlags().StringVar(&env.Config.Profile, "profile", os.Getenv("AWS_PROFILE"), "AWS shared config profile")
	rootCmd.PersistentFlags().IntVar(&env.Config.WaitAttempts, "wait-attempts", lab2.DefaultWaitAttempts, "Readiness checks before giving up on a resource")
	rootCmd.PersistentFlags().DurationVar(&env.Config.WaitDelay, "wait-delay", lab2.DefaultWaitDelay, "Delay between readiness checks")
	rootCmd.SetUsageFunc(Usage)
}

func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	} else {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			log.Fatal().Err(err).Send()
		}
		zerolog.SetGlobalLevel(level)
	}
}

func main() {
	configureLogging()
	Execute()
}
