// Package naming derives the stable Nagios host and service identifiers
// from CloudWatch alarm names and dimensions.
//
// The alarm-name convention is load-bearing: the first space-delimited
// token of an AlarmName is the "site token" identifying the website or
// application the alarm belongs to. The derivation below is a legacy
// convention shared with the SNS receiver; both sides must produce
// byte-identical names or passive check results land on unknown services.
package naming

import "strings"

// SiteToken is the short identifier for a logical website/application,
// used as the host-name prefix. It is always fully dot-separated.
type SiteToken string

// HostKey is the structured form of a Nagios host identity. It is kept
// structured inside the pipeline and serialized with String() only at the
// output boundary.
type HostKey struct {
	Site     SiteToken
	Resource string
}

// DeriveSiteToken turns a free-text alarm name into a site token.
//
// Rules, in order:
//  1. If the first space-delimited word contains '.', ':' or '-' it is
//     taken verbatim (something FQDN-like).
//  2. Else, if a second word exists, the token is
//     "first.second-constructed-name" so it can be split apart later.
//  3. Else "first.constructed-name-<account>"; the account qualifier keeps
//     this last resort collision-free across AWS accounts.
//
// In every case hyphens are then rewritten to dots. The rewrite is lossy
// and only approximately reversible; it is a documented convention
// upstream systems depend on, not something to fix here.
func DeriveSiteToken(alarmName, account string) SiteToken {
	words := strings.Split(alarmName, " ")

	var token string
	switch {
	case strings.ContainsAny(words[0], ".:-"):
		token = words[0]
	case len(words) > 1:
		token = words[0] + "." + words[1] + "-constructed-name"
	default:
		token = words[0] + ".constructed-name-" + account
	}

	return SiteToken(strings.ReplaceAll(token, "-", "."))
}

// String renders the Nagios host_name: "site:resource" with any slash
// replaced for Nagios XI Config Prep Tool compatibility.
func (k HostKey) String() string {
	return strings.ReplaceAll(string(k.Site)+":"+k.Resource, "/", "_")
}

// ServiceName renders the Nagios service_description. The alarm name is
// included because alarm names are unique upstream, which makes the
// service name unique per host.
func ServiceName(metricName, alarmName string) string {
	return strings.ReplaceAll(metricName+": "+alarmName, "/", "_")
}

// IsInstanceNamespace reports whether the namespace's alarms target an EC2
// instance, where the InstanceId dimension (not necessarily the first one)
// is the primary dimension. Shared by the generator and the receiver so
// both derive the same host for the same alarm.
func IsInstanceNamespace(namespace string) bool {
	return namespace == "AWS/EC2" || namespace == "System/Linux"
}
