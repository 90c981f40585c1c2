package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"labctl/internal/aws/lambdas"
	"labctl/internal/aws/lambdas/protocol"
	"labctl/internal/env"
	"labctl/internal/lab"
)

func reapHandler(ctx context.Context, event events.CloudWatchEvent) (protocol.ReapResponse, error) {
	regions, err := lambdas.RegionsFromEnv()
	if err != nil {
		return protocol.ReapResponse{}, err
	}
	dryRun, _ := strconv.ParseBool(os.Getenv(lambdas.DryRunEnv))
	log.Info().Str("event", event.ID).Strs("regions", regions).Bool("dry_run", dryRun).Msg("reaping expired labs")
	return lambdas.Reap(ctx, regions, time.Now(), dryRun, lab.DefaultPoller())
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	env.Config.Provider = "aws"
	env.Config.Region = os.Getenv("AWS_REGION")
	lambda.Start(reapHandler)
}
