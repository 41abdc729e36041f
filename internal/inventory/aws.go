package inventory

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/log"
)

// NewSession builds a shared-config session for one AWS profile, the same
// credentials the operator's CLI profile would use.
func NewSession(profile string) (*session.Session, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Profile:           profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return sess, nil
}

// FetchAlarms pages through cloudwatch:DescribeAlarms and converts the
// results. Each page fetch is retried with exponential backoff because the
// full-account listing is long enough to hit throttling.
func FetchAlarms(sess *session.Session) ([]Alarm, error) {
	cw := cloudwatch.New(sess)

	var alarms []Alarm
	var nextToken *string
	for {
		var out *cloudwatch.DescribeAlarmsOutput
		err := backoff.Retry(func() error {
			var err error
			out, err = cw.DescribeAlarms(&cloudwatch.DescribeAlarmsInput{
				NextToken: nextToken,
			})
			return err
		}, backoff.NewExponentialBackOff())
		if err != nil {
			return nil, errors.WithStack(err)
		}

		for _, ma := range out.MetricAlarms {
			alarms = append(alarms, convertAlarm(ma))
		}

		nextToken = out.NextToken
		if nextToken == nil {
			break
		}
	}

	log.Get().Info("fetched alarms", zap.Int("count", len(alarms)))
	return alarms, nil
}

func convertAlarm(ma *cloudwatch.MetricAlarm) Alarm {
	a := Alarm{
		ARN:               aws.StringValue(ma.AlarmArn),
		Namespace:         aws.StringValue(ma.Namespace),
		Description:       aws.StringValue(ma.AlarmDescription),
		Name:              aws.StringValue(ma.AlarmName),
		MetricName:        aws.StringValue(ma.MetricName),
		EvaluationPeriods: aws.Int64Value(ma.EvaluationPeriods),
		PeriodSeconds:     aws.Int64Value(ma.Period),
	}
	for _, act := range ma.AlarmActions {
		a.Actions = append(a.Actions, aws.StringValue(act))
	}
	for _, d := range ma.Dimensions {
		a.Dimensions = append(a.Dimensions, Dimension{
			Name:  aws.StringValue(d.Name),
			Value: aws.StringValue(d.Value),
		})
	}
	return a
}

// FetchInstances lists EC2 instances matching the configured tag filters
// ("Name=tag:Environment,Values=prod" style, the describe-instances CLI
// filter syntax the account config has always carried).
func FetchInstances(sess *session.Session, tagFilters []string) ([]Instance, error) {
	filters, err := parseFilters(tagFilters)
	if err != nil {
		return nil, err
	}

	svc := ec2.New(sess)
	input := &ec2.DescribeInstancesInput{}
	if len(filters) > 0 {
		input.Filters = filters
	}

	var instances []Instance
	for {
		var out *ec2.DescribeInstancesOutput
		err := backoff.Retry(func() error {
			var err error
			out, err = svc.DescribeInstances(input)
			return err
		}, backoff.NewExponentialBackOff())
		if err != nil {
			return nil, errors.WithStack(err)
		}

		for _, res := range out.Reservations {
			for _, in := range res.Instances {
				instances = append(instances, convertInstance(in))
			}
		}

		input.NextToken = out.NextToken
		if out.NextToken == nil {
			break
		}
	}

	var unnamed int
	for _, in := range instances {
		if in.Tags["Name"] == "" {
			unnamed++
		}
	}
	log.Get().Info("fetched instances",
		zap.Int("count", len(instances)),
		zap.Int("without_name_tag", unnamed),
		zap.Strings("filters", tagFilters))
	return instances, nil
}

func convertInstance(in *ec2.Instance) Instance {
	tags := make(map[string]string, len(in.Tags))
	for _, t := range in.Tags {
		tags[aws.StringValue(t.Key)] = aws.StringValue(t.Value)
	}
	return Instance{
		ID:         aws.StringValue(in.InstanceId),
		LaunchTime: aws.TimeValue(in.LaunchTime),
		Tags:       tags,
	}
}

func parseFilters(tagFilters []string) ([]*ec2.Filter, error) {
	var filters []*ec2.Filter
	for _, tf := range tagFilters {
		var name string
		var values []string
		for _, part := range strings.Split(tf, ",") {
			switch {
			case strings.HasPrefix(part, "Name="):
				name = strings.TrimPrefix(part, "Name=")
			case strings.HasPrefix(part, "Values="):
				values = append(values, strings.TrimPrefix(part, "Values="))
			case name != "" && len(values) > 0:
				// Additional comma-separated values after Values=.
				values = append(values, part)
			default:
				return nil, errors.Errorf("malformed tag filter %q", tf)
			}
		}
		if name == "" || len(values) == 0 {
			return nil, errors.Errorf("malformed tag filter %q", tf)
		}
		filters = append(filters, &ec2.Filter{
			Name:   aws.String(name),
			Values: aws.StringSlice(values),
		})
	}
	return filters, nil
}
