package classify

import (
	"reflect"
	"strings"
	"testing"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/config"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/inventory"
)

func stackConfig() config.Stack {
	return config.Stack{
		CustomerShortName: "HWP",
		CustomerLongName:  "Harvard Web Publishing",
		TagFilters:        []string{"Name=tag:Environment,Values=prod"},
		ApplicationSites: []config.Site{
			{WebsiteHostName: "payments-harvard-edu", NagiosContactGroupAlarms: "hwp-admins"},
			{WebsiteHostName: "shop-harvard-edu", NagiosContactGroupAlarms: "shop-admins"},
		},
	}
}

func baseInput(alarms []inventory.Alarm, instances []inventory.Instance) Input {
	return Input{
		Profile:             "hwp",
		AppStack:            "www",
		Region:              "us-east-1",
		DefaultContactGroup: "aws-default",
		Stack:               stackConfig(),
		Alarms:              alarms,
		Instances:           inventory.BuildIndex(instances),
	}
}

func rdsAlarm() inventory.Alarm {
	return inventory.Alarm{
		ARN:               "arn:aws:cloudwatch:us-east-1:123456789012:alarm:payments-harvard-edu high-cpu",
		Actions:           []string{"arn:aws:sns:us-east-1:123456789012:HWP-Nagios-Alarms"},
		Namespace:         "AWS/RDS",
		Name:              "payments-harvard-edu high-cpu",
		Description:       "RDS CPU too high",
		Dimensions:        []inventory.Dimension{{Name: "DBInstanceIdentifier", Value: "proddb1"}},
		MetricName:        "CPUUtilization",
		EvaluationPeriods: 10,
		PeriodSeconds:     60,
	}
}

func TestRunRDSInclude(t *testing.T) {
	res, err := Run(baseInput([]inventory.Alarm{rdsAlarm()}, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Hosts) != 1 || len(res.Services) != 1 {
		t.Fatalf("got %d hosts / %d services, want 1/1", len(res.Hosts), len(res.Services))
	}

	h := res.Hosts[0]
	if h.Name != "payments.harvard.edu:proddb1" {
		t.Fatalf("host name = %q", h.Name)
	}
	if h.ContactGroup != "hwp-admins" {
		t.Fatalf("contact group = %q", h.ContactGroup)
	}
	if h.Origin != "AWS/RDS:DBInstanceIdentifier" {
		t.Fatalf("origin = %q", h.Origin)
	}
	if h.ShortSite != "payments.harvard" {
		t.Fatalf("short site = %q", h.ShortSite)
	}

	s := res.Services[0]
	if s.Name != "CPUUtilization: payments-harvard-edu high-cpu" {
		t.Fatalf("service name = %q", s.Name)
	}
	if s.EvalWindow != "10 minutes" {
		t.Fatalf("eval window = %q", s.EvalWindow)
	}
	wantURL := "https://console.aws.amazon.com/rds/home?region=us-east-1#dbinstances:id=proddb1"
	if s.ActionURL != wantURL {
		t.Fatalf("action URL = %q, want %q", s.ActionURL, wantURL)
	}
	if s.ContactGroup != "hwp-admins" {
		t.Fatalf("service contact group = %q", s.ContactGroup)
	}
}

func TestRunStaleInstanceSkipped(t *testing.T) {
	alarm := rdsAlarm()
	alarm.Namespace = "AWS/EC2"
	alarm.Dimensions = []inventory.Dimension{{Name: "InstanceId", Value: "i-0123"}}

	res, err := Run(baseInput([]inventory.Alarm{alarm}, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Hosts) != 0 || len(res.Services) != 0 {
		t.Fatalf("stale alarm produced entities: %d hosts, %d services", len(res.Hosts), len(res.Services))
	}
	if res.StaleSkips != 1 {
		t.Fatalf("StaleSkips = %d, want 1", res.StaleSkips)
	}
	found := false
	for _, n := range res.Notes {
		if strings.Contains(n, "stale and needs to be updated or removed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no stale-skip note in %q", res.Notes)
	}
}

func TestRunLiveInstanceIncluded(t *testing.T) {
	alarm := rdsAlarm()
	alarm.Namespace = "AWS/EC2"
	// InstanceId is not the first dimension on purpose.
	alarm.Dimensions = []inventory.Dimension{
		{Name: "AutoScalingGroupName", Value: "asg-1"},
		{Name: "InstanceId", Value: "i-0123"},
	}

	res, err := Run(baseInput(
		[]inventory.Alarm{alarm},
		[]inventory.Instance{{ID: "i-0123"}},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Hosts) != 1 {
		t.Fatalf("got %d hosts, want 1", len(res.Hosts))
	}
	if res.Hosts[0].Name != "payments.harvard.edu:i-0123" {
		t.Fatalf("host name = %q", res.Hosts[0].Name)
	}
	if res.Hosts[0].Origin != "AWS/EC2:InstanceId" {
		t.Fatalf("origin = %q", res.Hosts[0].Origin)
	}
	if res.Services[0].PrimaryDimension != "InstanceId" {
		t.Fatalf("primary dimension = %q", res.Services[0].PrimaryDimension)
	}
}

func TestRunStaleSkipOrderIndependent(t *testing.T) {
	stale := rdsAlarm()
	stale.Namespace = "AWS/EC2"
	stale.Dimensions = []inventory.Dimension{{Name: "InstanceId", Value: "i-gone"}}

	live := rdsAlarm()
	live.Name = "shop-harvard-edu cart errors"

	for name, alarms := range map[string][]inventory.Alarm{
		"stale first": {stale, live},
		"stale last":  {live, stale},
	} {
		res, err := Run(baseInput(alarms, nil))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if res.StaleSkips != 1 {
			t.Fatalf("%s: StaleSkips = %d, want 1", name, res.StaleSkips)
		}
		if len(res.Hosts) != 1 {
			t.Fatalf("%s: got %d hosts, want 1", name, len(res.Hosts))
		}
	}
}

func TestRunUnconfiguredSiteSkipped(t *testing.T) {
	alarm := rdsAlarm()
	alarm.Name = "unknown-site-edu something"

	res, err := Run(baseInput([]inventory.Alarm{alarm}, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Hosts) != 0 || len(res.Services) != 0 {
		t.Fatal("unconfigured site produced entities")
	}
	if res.UnconfiguredSkips != 1 {
		t.Fatalf("UnconfiguredSkips = %d, want 1", res.UnconfiguredSkips)
	}
}

func TestRunNonNagiosActionsIgnored(t *testing.T) {
	alarm := rdsAlarm()
	alarm.Actions = []string{"arn:aws:sns:us-east-1:123456789012:pager-rotation"}

	res, err := Run(baseInput([]inventory.Alarm{alarm}, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Services) != 0 {
		t.Fatal("non-nagios action produced a service")
	}
}

func TestRunCaseInsensitiveActionMarker(t *testing.T) {
	alarm := rdsAlarm()
	alarm.Actions = []string{"arn:aws:sns:us-east-1:123456789012:Send-To-NAGIOS-Prod"}

	res, err := Run(baseInput([]inventory.Alarm{alarm}, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Services) != 1 {
		t.Fatal("upper-case nagios marker not matched")
	}
}

func TestRunMalformedAlarmNotedNotFatal(t *testing.T) {
	bad := inventory.Alarm{MetricName: "CPUUtilization"}
	res, err := Run(baseInput([]inventory.Alarm{bad, rdsAlarm()}, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Services) != 1 {
		t.Fatalf("got %d services, want 1", len(res.Services))
	}
	if len(res.Notes) == 0 || !strings.Contains(res.Notes[0], "missing AlarmName or Dimensions") {
		t.Fatalf("missing malformed-alarm note, notes = %q", res.Notes)
	}
}

func TestRunEmptyInventoryFatal(t *testing.T) {
	_, err := Run(baseInput(nil, nil))
	if err == nil || !ErrNoAlarms(err) {
		t.Fatalf("expected errNoAlarms, got %v", err)
	}
}

func TestRunDeterministic(t *testing.T) {
	alarms := []inventory.Alarm{rdsAlarm()}
	second := rdsAlarm()
	second.Name = "shop-harvard-edu cart errors"
	second.MetricName = "HTTPCode_ELB_5XX_Count"
	second.Namespace = "AWS/ELB"
	alarms = append(alarms, second)

	a, err := Run(baseInput(alarms, nil))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Run(baseInput(alarms, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two runs over identical inputs differ")
	}
}

func TestActionURLTable(t *testing.T) {
	cases := []struct {
		namespace string
		want      string
	}{
		{"AWS/RDS", "https://console.aws.amazon.com/rds/home?region=r#dbinstances:id=x"},
		{"AWS/ELB", "https://console.aws.amazon.com/ec2/v2/home?region=r#LoadBalancers:search=x"},
		{"AWS/ApplicationELB", "https://console.aws.amazon.com/ec2/home?region=r#TargetGroups:search=x"},
		{"AWS/EC2", "https://console.aws.amazon.com/ec2/v2/home?region=r#Instances:search=x"},
		{"System/Linux", "https://console.aws.amazon.com/ec2/v2/home?region=r#Instances:search=x"},
		{"AWS/AutoScaling", "https://console.aws.amazon.com/ec2/autoscaling/home?region=r#AutoScalingGroups:id=x"},
		{"AWS/Lambda", "https://console.aws.amazon.com/console/home?region=r"},
	}
	for _, tc := range cases {
		if got := ActionURL(tc.namespace, "r", "x"); got != tc.want {
			t.Fatalf("ActionURL(%s) = %q, want %q", tc.namespace, got, tc.want)
		}
	}
}

func TestAlarmConsoleURLDoubleEncoded(t *testing.T) {
	got := AlarmConsoleURL("us-east-1", "payments-harvard-edu high-cpu")
	// Space encodes to %20 on the first pass and %2520 on the second.
	if !strings.Contains(got, "payments-harvard-edu%2520high-cpu") {
		t.Fatalf("alarm name not double-encoded: %q", got)
	}
}

func TestEvalWindow(t *testing.T) {
	cases := []struct {
		periods, seconds int64
		want             string
	}{
		{10, 60, "10 minutes"},
		{1, 60, "1 minute"},
		{1, 90, "1.5 minute"},
		{2, 60, "2 minutes"},
	}
	for _, tc := range cases {
		if got := evalWindow(tc.periods, tc.seconds); got != tc.want {
			t.Fatalf("evalWindow(%d, %d) = %q, want %q", tc.periods, tc.seconds, got, tc.want)
		}
	}
}
