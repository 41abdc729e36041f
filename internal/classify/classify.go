// Package classify turns the raw alarm inventory into the set of Nagios
// host and service entities, deciding per alarm action whether to include
// it, skip it as stale, or skip it as unconfigured. Everything it learns
// along the way is returned in explicit accumulators; there is no shared
// state between runs.
package classify

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/config"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/inventory"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/log"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/naming"
)

// Alarm actions are routed to Nagios through SNS topics whose names vary
// by convention, so the filter is a deliberately loose case-insensitive
// substring match.
const nagiosActionMarker = "nagios"

const awsConsoleURLBase = "https://console.aws.amazon.com/"

// noDescription substitutes for alarms created without an AlarmDescription.
const noDescription = `(No "AlarmDescription" found for this CloudWatch Alarm)`

// Host is one derived Nagios host, created once per unique host name.
type Host struct {
	Name         string
	Site         naming.SiteToken
	ShortSite    string
	Origin       string // namespace:dimension-name that produced the name
	ContactGroup string
}

// Service is one derived Nagios service, one per qualifying alarm action.
type Service struct {
	HostName         string
	Name             string
	AlarmName        string
	Description      string
	ContactGroup     string
	Namespace        string
	MetricName       string
	PrimaryDimension string
	ResourceID       string
	ActionURL        string
	NotesURL         string
	EvalWindow       string
}

// SiteGroup collects the host names belonging to one site, in discovery
// order.
type SiteGroup struct {
	Token naming.SiteToken
	Hosts []string
}

// Result is the classified alarm stream plus every diagnostic produced on
// the way. Notes are ordered and included verbatim in the emitted config.
type Result struct {
	Hosts    []Host
	Services []Service
	Sites    []SiteGroup
	Notes    []string

	AlarmTotal        int
	StaleSkips        int
	UnconfiguredSkips int
}

// Input carries one generator invocation's worth of classification state.
type Input struct {
	Profile             string
	AppStack            string
	Region              string
	DefaultContactGroup string
	Stack               config.Stack
	Alarms              []inventory.Alarm
	Instances           inventory.Index
}

// Run classifies every alarm action. Malformed alarms are noted and
// skipped; only a completely empty alarm list is an error (the caller
// treats that as fatal because this generator is itself monitored).
func Run(in Input) (*Result, error) {
	if len(in.Alarms) == 0 {
		return nil, errNoAlarms
	}

	res := &Result{AlarmTotal: len(in.Alarms)}
	hostIndex := make(map[string]int)
	siteIndex := make(map[naming.SiteToken]int)
	siteHostSeen := make(map[string]bool)

	for _, alarm := range in.Alarms {
		if alarm.Name == "" || len(alarm.Dimensions) == 0 {
			res.note("# Skipping alarm %q (MetricName %q) - missing AlarmName or Dimensions, cannot derive Nagios names.", alarm.Name, alarm.MetricName)
			log.Get().Warn("malformed alarm record",
				zap.String("alarm_arn", alarm.ARN),
				zap.String("metric_name", alarm.MetricName))
			continue
		}

		for _, action := range alarm.Actions {
			if !strings.Contains(strings.ToLower(action), nagiosActionMarker) {
				continue
			}

			site := naming.DeriveSiteToken(alarm.Name, in.Profile)
			resourceID, primaryDim := primaryDimension(alarm)
			hostName := naming.HostKey{Site: site, Resource: resourceID}.String()

			// Alarms for instances that no longer exist would otherwise pile
			// up as config objects forever; at one point there were more than
			// 2000 of them. Other namespaces are allowed through even when
			// stale so the owner can at least see INSUFFICIENT_DATA.
			if isInstanceNamespace(alarm.Namespace) && !in.Instances.Contains(resourceID) {
				res.note("# Skipping host %q (built from CloudWatch Alarms, namespace %s) because there is no EC2 instance with that ID found from the filter ( %s ) !!!",
					hostName, alarm.Namespace, strings.Join(in.Stack.TagFilters, " "))
				res.note("# This skipping means the CloudWatch Alarm %q (MetricName %s) is stale and needs to be updated or removed!!",
					alarm.Name, alarm.MetricName)
				res.StaleSkips++
				continue
			}

			contactGroup, ok := resolveContactGroup(in.Stack, site, in.DefaultContactGroup)
			if !ok {
				res.note("# NOTE: Skipping host name %q for %s because it matched no \"nagiosContactGroupAlarms\" in the config file { %q: { %q } } section.",
					hostName, in.Stack.CustomerShortName, in.Profile, in.AppStack)
				res.UnconfiguredSkips++
				continue
			}

			if _, seen := hostIndex[hostName]; !seen {
				res.note("# Found Nagios host name %q in site %s which has {nagiosContactGroupAlarms->%s} in the config file.",
					hostName, site, contactGroup)
				hostIndex[hostName] = len(res.Hosts)
				res.Hosts = append(res.Hosts, Host{
					Name:         hostName,
					Site:         site,
					ShortSite:    shortSiteName(hostName),
					Origin:       originOf(alarm),
					ContactGroup: contactGroup,
				})
			}

			si, seen := siteIndex[site]
			if !seen {
				si = len(res.Sites)
				siteIndex[site] = si
				res.Sites = append(res.Sites, SiteGroup{Token: site})
			}
			if !siteHostSeen[string(site)+"\x00"+hostName] {
				siteHostSeen[string(site)+"\x00"+hostName] = true
				res.Sites[si].Hosts = append(res.Sites[si].Hosts, hostName)
			}

			desc := alarm.Description
			if desc == "" {
				desc = noDescription
			}

			res.Services = append(res.Services, Service{
				HostName:         hostName,
				Name:             naming.ServiceName(alarm.MetricName, alarm.Name),
				AlarmName:        alarm.Name,
				Description:      desc,
				ContactGroup:     contactGroup,
				Namespace:        alarm.Namespace,
				MetricName:       alarm.MetricName,
				PrimaryDimension: primaryDim,
				ResourceID:       resourceID,
				ActionURL:        ActionURL(alarm.Namespace, in.Region, resourceID),
				NotesURL:         AlarmConsoleURL(in.Region, alarm.Name),
				EvalWindow:       evalWindow(alarm.EvaluationPeriods, alarm.PeriodSeconds),
			})
		}
	}

	return res, nil
}

var errNoAlarms = errors.New("got no alarms back from the inventory")

// ErrNoAlarms reports whether err is the fatal empty-inventory condition.
func ErrNoAlarms(err error) bool {
	return err == errNoAlarms
}

func (r *Result) note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func isInstanceNamespace(ns string) bool {
	return naming.IsInstanceNamespace(ns)
}

// primaryDimension picks the dimension whose value becomes the host's
// resource part. The first dimension is primary except for instance
// namespaces, where the InstanceId dimension is authoritative wherever it
// appears in the list (and may be absent entirely, leaving it empty).
func primaryDimension(alarm inventory.Alarm) (value, name string) {
	if isInstanceNamespace(alarm.Namespace) {
		for _, d := range alarm.Dimensions {
			if d.Name == "InstanceId" {
				return d.Value, d.Name
			}
		}
		return "", "InstanceId"
	}
	return alarm.Dimensions[0].Value, alarm.Dimensions[0].Name
}

func originOf(alarm inventory.Alarm) string {
	if isInstanceNamespace(alarm.Namespace) {
		return alarm.Namespace + ":InstanceId"
	}
	return alarm.Namespace + ":" + alarm.Dimensions[0].Name
}

// resolveContactGroup matches the site token against the configured
// applicationSites (whose websiteHostName carries hyphens that the token
// derivation rewrote to dots).
func resolveContactGroup(stack config.Stack, site naming.SiteToken, fallback string) (string, bool) {
	for _, s := range stack.ApplicationSites {
		if strings.ReplaceAll(s.WebsiteHostName, "-", ".") != string(site) {
			continue
		}
		if s.NagiosContactGroupAlarms == "" {
			return fallback, true
		}
		return s.NagiosContactGroupAlarms, true
	}
	return "", false
}

// shortSiteName is the first two dot/colon-delimited parts of a host name,
// recorded in _AWS_Data for the active-check plugin to split back apart.
func shortSiteName(hostName string) string {
	parts := strings.SplitN(strings.ReplaceAll(hostName, ":", "."), ".", 3)
	if len(parts) < 2 {
		return parts[0] + "."
	}
	return parts[0] + "." + parts[1]
}

// ActionURL maps a namespace to the AWS console page for its resource.
// Unknown namespaces fall back to the console landing page.
func ActionURL(namespace, region, resourceID string) string {
	switch namespace {
	case "AWS/RDS":
		return awsConsoleURLBase + "rds/home?region=" + region + "#dbinstances:id=" + resourceID
	case "AWS/ELB":
		return awsConsoleURLBase + "ec2/v2/home?region=" + region + "#LoadBalancers:search=" + resourceID
	case "AWS/ApplicationELB":
		return awsConsoleURLBase + "ec2/home?region=" + region + "#TargetGroups:search=" + resourceID
	case "AWS/EC2", "System/Linux":
		return awsConsoleURLBase + "ec2/v2/home?region=" + region + "#Instances:search=" + resourceID
	case "AWS/AutoScaling":
		return awsConsoleURLBase + "ec2/autoscaling/home?region=" + region + "#AutoScalingGroups:id=" + resourceID
	}
	return awsConsoleURLBase + "console/home?region=" + region
}

// AlarmConsoleURL links to the CloudWatch alarm view. The alarm name is
// raw-url-encoded twice; the console decodes one level itself.
func AlarmConsoleURL(region, alarmName string) string {
	return awsConsoleURLBase + "cloudwatch/home?region=" + region +
		"#c=CloudWatch&s=Alarms&alarm=" + rawURLEncode(rawURLEncode(alarmName))
}

func rawURLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// evalWindow reports the real alarm evaluation window in minutes, since
// the AlarmDescription routinely assumed a 60-second period.
func evalWindow(periods, seconds int64) string {
	minutes := float64(periods*seconds) / 60
	unit := "minute"
	if minutes >= 2 {
		unit += "s"
	}
	return strconv.FormatFloat(minutes, 'f', -1, 64) + " " + unit
}
