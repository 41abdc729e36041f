// Command aws-sns-receiver is the HTTP endpoint SNS pushes CloudWatch
// alarm notifications to. Validated state changes are written to the
// Nagios command pipe as passive service check results.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/config"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/log"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/receiver"
)

func main() {
	app := cli.NewApp()
	app.Name = "aws-sns-receiver"
	app.Usage = "receive SNS alarm notifications and relay them to Nagios"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "receiver YAML config file",
		},
	}
	app.Action = func(ctx *cli.Context) error {
		if err := execute(ctx.String("config")); err != nil {
			log.Get().Error("receiver exited",
				zap.String("cause", fmt.Sprintf("%+v", err)))
			return err
		}
		return nil
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func execute(configFile string) error {
	cfg, err := config.LoadReceiver(configFile)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Debug); err != nil {
		return err
	}

	r, err := receiver.New(cfg)
	if err != nil {
		return err
	}

	log.Get().Info("listening for SNS notifications",
		zap.String("addr", cfg.Listen),
		zap.Bool("restrict_by_topic", cfg.SNS.RestrictByTopic),
		zap.Bool("verify_signature", cfg.SNS.VerifySignature))
	return r.Engine().Run(cfg.Listen)
}
