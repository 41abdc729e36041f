// Package config loads the two configuration documents: the receiver's
// YAML settings and the generator's account/stack JSON document. Both are
// validated once at load time; nothing downstream re-checks presence.
package config

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Receiver holds the SNS webhook daemon settings.
type Receiver struct {
	Debug  bool   `yaml:"debug"`
	Listen string `yaml:"listen"`

	Nagios struct {
		CommandFile   string `yaml:"command_file"`
		FreshnessFile string `yaml:"freshness_file"`
	} `yaml:"nagios"`

	SNS struct {
		RestrictByTopic   bool     `yaml:"restrict_by_topic"`
		AllowedTopics     []string `yaml:"allowed_topics"`
		VerifySignature   bool     `yaml:"verify_signature"`
		SourceDomain      string   `yaml:"source_domain"`
		HeartbeatSubjects []string `yaml:"heartbeat_subjects"`
	} `yaml:"sns"`
}

func LoadReceiver(filename string) (*Receiver, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var c Receiver
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Receiver) Validate() error {
	var missing []string
	if c.Listen == "" {
		missing = append(missing, "listen")
	}
	if c.Nagios.CommandFile == "" {
		missing = append(missing, "nagios.command_file")
	}
	if c.Nagios.FreshnessFile == "" {
		missing = append(missing, "nagios.freshness_file")
	}
	if c.SNS.RestrictByTopic && len(c.SNS.AllowedTopics) == 0 {
		missing = append(missing, "sns.allowed_topics")
	}
	if c.SNS.VerifySignature && c.SNS.SourceDomain == "" {
		missing = append(missing, "sns.source_domain")
	}
	if len(missing) > 0 {
		return errors.Errorf("receiver config missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Accounts is the generator's account/stack document (AWS_config.json).
type Accounts struct {
	NagiosMasterName    string                      `json:"nagiosMasterName"`
	DefaultContactGroup string                      `json:"defaultContactGroup"`
	AccountsByName      map[string]map[string]Stack `json:"accountsByName"`
}

// Stack describes one application stack within an account.
type Stack struct {
	CustomerShortName string   `json:"customerShortName"`
	CustomerLongName  string   `json:"customerLongName"`
	TagFilters        []string `json:"tagFilters"`
	ApplicationSites  []Site   `json:"applicationSites"`

	// ParentHostOwner marks the stack whose generator invocation emits the
	// shared per-account parent host. Exactly one stack per multi-stack
	// account should carry it.
	ParentHostOwner bool `json:"parentHostOwner"`
}

// Site maps one website host token to its Nagios contact group.
type Site struct {
	WebsiteHostName          string `json:"websiteHostName"`
	NagiosContactGroupAlarms string `json:"nagiosContactGroupAlarms"`
}

func LoadAccounts(filename string) (*Accounts, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var a Accounts
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrapf(err, "no usable JSON in config file %s", filename)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate reports every missing required field at once rather than
// failing on the first ad hoc existence check.
func (a *Accounts) Validate() error {
	var missing []string
	if a.NagiosMasterName == "" {
		missing = append(missing, "nagiosMasterName")
	}
	if a.DefaultContactGroup == "" {
		missing = append(missing, "defaultContactGroup")
	}
	if len(a.AccountsByName) == 0 {
		missing = append(missing, "accountsByName")
	}
	for profile, stacks := range a.AccountsByName {
		for name, st := range stacks {
			prefix := "accountsByName." + profile + "." + name + "."
			if st.CustomerShortName == "" {
				missing = append(missing, prefix+"customerShortName")
			}
			if st.CustomerLongName == "" {
				missing = append(missing, prefix+"customerLongName")
			}
			if st.TagFilters == nil {
				missing = append(missing, prefix+"tagFilters")
			}
			if st.ApplicationSites == nil {
				missing = append(missing, prefix+"applicationSites")
			}
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("accounts config missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Stack resolves one profile/appStack pair.
func (a *Accounts) Stack(profile, appStack string) (Stack, error) {
	stacks, ok := a.AccountsByName[profile]
	if !ok {
		return Stack{}, errors.Errorf("can't find AWS account/profile %q in accountsByName", profile)
	}
	st, ok := stacks[appStack]
	if !ok {
		return Stack{}, errors.Errorf("can't find app stack %q in accountsByName.%s", appStack, profile)
	}
	return st, nil
}

// StackNames returns the stack names for a profile, sorted for the
// deterministic parent-owner fallback.
func (a *Accounts) StackNames(profile string) []string {
	stacks := a.AccountsByName[profile]
	names := make([]string, 0, len(stacks))
	for name := range stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OwnsParentHost reports whether the appStack invocation is responsible
// for emitting the shared per-account parent host: a single-stack account
// always owns it, an explicitly flagged stack owns it, and with no flag
// anywhere the first stack by sort order is the safety-net owner.
func (a *Accounts) OwnsParentHost(profile, appStack string) bool {
	stacks := a.AccountsByName[profile]
	if len(stacks) == 1 {
		return true
	}
	if stacks[appStack].ParentHostOwner {
		return true
	}
	for _, st := range stacks {
		if st.ParentHostOwner {
			return false
		}
	}
	names := a.StackNames(profile)
	return len(names) > 0 && names[0] == appStack
}
