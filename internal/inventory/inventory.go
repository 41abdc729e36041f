// Package inventory holds the upstream alarm and instance records and the
// live-instance index used for stale-alarm detection.
package inventory

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Dimension is a named key/value qualifier scoping a metric to one
// resource instance.
type Dimension struct {
	Name  string
	Value string
}

// Alarm is one CloudWatch metric alarm as returned by the inventory API.
type Alarm struct {
	ARN               string
	Actions           []string
	Namespace         string
	Description       string
	Name              string
	Dimensions        []Dimension
	MetricName        string
	EvaluationPeriods int64
	PeriodSeconds     int64
}

// Instance is one EC2 instance. Only membership of the ID matters for
// classification; the rest is carried for diagnostics.
type Instance struct {
	ID         string
	LaunchTime time.Time
	Tags       map[string]string
}

// Index answers "does this instance ID exist in the current inventory".
type Index struct {
	byID map[string]Instance
}

// BuildIndex maps instance IDs to records. The input is not required to be
// unique; the last record for an ID wins.
func BuildIndex(instances []Instance) Index {
	byID := make(map[string]Instance, len(instances))
	for _, in := range instances {
		byID[in.ID] = in
	}
	return Index{byID: byID}
}

func (ix Index) Contains(id string) bool {
	_, ok := ix.byID[id]
	return ok
}

func (ix Index) Len() int {
	return len(ix.byID)
}

// RegionFromARN extracts the region from a colon-delimited alarm ARN
// (arn:aws:cloudwatch:region:account:alarm:name). The generator reads it
// from the first alarm only and assumes the whole batch shares a region.
func RegionFromARN(arn string) (string, error) {
	parts := strings.Split(arn, ":")
	if len(parts) < 4 || parts[3] == "" {
		return "", errors.Errorf("malformed alarm ARN %q", arn)
	}
	return parts[3], nil
}
