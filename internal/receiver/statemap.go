package receiver

import (
	"strings"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/nagios"
)

// isELBHTTPErrorMetric matches the load-balancer-side HTTP error counters
// (HTTPCode_ELB_5XX_Count and friends). Backend-side counters
// (HTTPCode_Backend_*) are deliberately excluded: those measure the
// application answering badly, where "no data" really is indeterminate.
func isELBHTTPErrorMetric(metricName string) bool {
	return strings.HasPrefix(metricName, "HTTPCode_ELB_")
}

// MapState translates an alarm state transition into a Nagios severity.
//
// For ELB HTTP-error-rate counters the OK/INSUFFICIENT_DATA mapping is
// inverted: "no data" means zero errors were observed (good), while "OK"
// means errors occurred but stayed under threshold (not perfect, so it is
// downgraded to a warning).
func MapState(newStateValue, metricName string) nagios.Status {
	if isELBHTTPErrorMetric(metricName) {
		switch newStateValue {
		case "ALARM":
			return nagios.StatusCritical
		case "INSUFFICIENT_DATA":
			return nagios.StatusOK
		case "OK":
			return nagios.StatusWarning
		}
		return nagios.StatusUnknown
	}

	switch newStateValue {
	case "ALARM":
		return nagios.StatusCritical
	case "INSUFFICIENT_DATA":
		return nagios.StatusWarning
	case "OK":
		return nagios.StatusOK
	}
	return nagios.StatusUnknown
}
