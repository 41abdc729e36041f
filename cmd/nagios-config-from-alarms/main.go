// Command nagios-config-from-alarms reads the CloudWatch alarm inventory
// for one AWS account profile and app stack, and writes a Nagios object
// configuration for it to stdout.
//
// Exit codes follow Nagios plugin conventions because the generator run
// is itself monitored: 0 on success, 3 (UNKNOWN) for configuration and
// input problems, 2 (CRITICAL) when the structured export cannot be
// written.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/classify"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/config"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/inventory"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/log"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/nagioscfg"
)

const (
	exitOK       = 0
	exitCritical = 2
	exitUnknown  = 3
)

func main() {
	app := cli.NewApp()
	app.Name = "nagios-config-from-alarms"
	app.Usage = "generate Nagios config from the CloudWatch alarms of one AWS account stack"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "profile",
			Usage: "AWS account profile name (also the accountsByName key)",
		},
		cli.StringFlag{
			Name:  "appStack",
			Usage: "application stack name within the account",
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "account/stack JSON config file",
		},
		cli.BoolFlag{
			Name:  "export",
			Usage: "also write the structured JSON export",
		},
		cli.StringFlag{
			Name:  "staging-dir",
			Usage: "directory the export is first written to",
		},
		cli.StringFlag{
			Name:  "export-dir",
			Usage: "directory the finished export is served from",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "verbose logging to stderr",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		return log.Init(ctx.Bool("debug"))
	}
	app.Action = func(ctx *cli.Context) error {
		code, err := execute(ctx)
		if err != nil {
			log.Get().Error("generator run failed",
				zap.Int("exit_code", code),
				zap.String("cause", fmt.Sprintf("%+v", err)))
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		os.Exit(code)
		return nil
	}
	app.Run(os.Args)
}

func execute(ctx *cli.Context) (int, error) {
	profile := ctx.String("profile")
	appStack := ctx.String("appStack")
	configFile := ctx.String("config")
	if profile == "" || appStack == "" || configFile == "" {
		return exitUnknown, errors.New("--profile, --appStack and --config are all required")
	}
	if ctx.Bool("export") && (ctx.String("staging-dir") == "" || ctx.String("export-dir") == "") {
		return exitUnknown, errors.New("--export requires --staging-dir and --export-dir")
	}

	accounts, err := config.LoadAccounts(configFile)
	if err != nil {
		return exitUnknown, err
	}
	stack, err := accounts.Stack(profile, appStack)
	if err != nil {
		return exitUnknown, err
	}

	sess, err := inventory.NewSession(profile)
	if err != nil {
		return exitUnknown, err
	}
	alarms, err := inventory.FetchAlarms(sess)
	if err != nil {
		return exitUnknown, err
	}
	if len(alarms) == 0 {
		return exitUnknown, errors.Errorf("got no alarms back for profile %q", profile)
	}
	region, err := inventory.RegionFromARN(alarms[0].ARN)
	if err != nil {
		return exitUnknown, err
	}
	instances, err := inventory.FetchInstances(sess, stack.TagFilters)
	if err != nil {
		return exitUnknown, err
	}

	result, err := classify.Run(classify.Input{
		Profile:             profile,
		AppStack:            appStack,
		Region:              region,
		DefaultContactGroup: accounts.DefaultContactGroup,
		Stack:               stack,
		Alarms:              alarms,
		Instances:           inventory.BuildIndex(instances),
	})
	if err != nil {
		return exitUnknown, err
	}

	meta := nagioscfg.Meta{
		Profile:             profile,
		AppStack:            appStack,
		ConfigFile:          configFile,
		NagiosMasterName:    accounts.NagiosMasterName,
		DefaultContactGroup: accounts.DefaultContactGroup,
		CustomerShortName:   stack.CustomerShortName,
		CustomerLongName:    stack.CustomerLongName,
		EmitParentHost:      accounts.OwnsParentHost(profile, appStack),
		Now:                 time.Now(),
	}

	emitter := nagioscfg.NewEmitter(meta, ctx.Bool("export"))
	if err := emitter.Emit(os.Stdout, toSource(result)); err != nil {
		return exitUnknown, errors.Wrap(err, "writing config stream")
	}

	if export := emitter.Export(); export != nil {
		path, err := export.WriteAtomic(ctx.String("staging-dir"), ctx.String("export-dir"), profile, appStack)
		if err != nil {
			return exitCritical, err
		}
		log.Get().Info("structured export written", zap.String("path", path))
	}

	return exitOK, nil
}

// toSource flattens the classifier result into the emitter's plain data
// form.
func toSource(res *classify.Result) nagioscfg.Source {
	src := nagioscfg.Source{
		Notes:             res.Notes,
		AlarmTotal:        res.AlarmTotal,
		StaleSkips:        res.StaleSkips,
		UnconfiguredSkips: res.UnconfiguredSkips,
	}
	for _, h := range res.Hosts {
		src.Hosts = append(src.Hosts, nagioscfg.HostEntity{
			Name:         h.Name,
			ShortSite:    h.ShortSite,
			Origin:       h.Origin,
			ContactGroup: h.ContactGroup,
		})
	}
	for _, s := range res.Services {
		src.Services = append(src.Services, nagioscfg.ServiceEntity{
			HostName:         s.HostName,
			Name:             s.Name,
			AlarmName:        s.AlarmName,
			Description:      s.Description,
			ContactGroup:     s.ContactGroup,
			Namespace:        s.Namespace,
			MetricName:       s.MetricName,
			PrimaryDimension: s.PrimaryDimension,
			ResourceID:       s.ResourceID,
			ActionURL:        s.ActionURL,
			NotesURL:         s.NotesURL,
			EvalWindow:       s.EvalWindow,
		})
	}
	for _, site := range res.Sites {
		src.Sites = append(src.Sites, nagioscfg.SiteEntities{
			Site:  string(site.Token),
			Hosts: site.Hosts,
		})
	}
	return src
}
