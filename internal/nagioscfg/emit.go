// Package nagioscfg renders the classified alarm stream as Nagios
// configuration text, with an optional structured JSON mirror for bulk
// import into the monitoring console.
package nagioscfg

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// StatsLeadingText prefixes every statistics comment. An external
// freshness check greps for it, so the exact phrase is load-bearing.
const StatsLeadingText = "Total number of"

// CompletedPrefix starts the sentinel emitted as the very last stdout
// line. The wrapper that installs the generated config requires it.
const CompletedPrefix = "# Completed OK at "

const timeLayout = "2006-01-02 15:04:05"

// Meta carries the invocation context rendered into the config header and
// object names.
type Meta struct {
	Profile             string
	AppStack            string
	ConfigFile          string
	NagiosMasterName    string
	DefaultContactGroup string
	CustomerShortName   string
	CustomerLongName    string
	EmitParentHost      bool
	Now                 time.Time
}

func (m Meta) parentHostName() string {
	return m.Profile + "-AWS-account"
}

func (m Meta) consoleSignin() string {
	return "https://" + m.Profile + ".signin.aws.amazon.com/console"
}

// Source is the classified entity stream the emitter consumes. The
// package depends only on data, not on the classifier.
type Source struct {
	Hosts    []HostEntity
	Services []ServiceEntity
	Sites    []SiteEntities
	Notes    []string

	AlarmTotal        int
	StaleSkips        int
	UnconfiguredSkips int
}

// HostEntity mirrors classify.Host at the emission boundary.
type HostEntity struct {
	Name         string
	ShortSite    string
	Origin       string
	ContactGroup string
}

// ServiceEntity mirrors classify.Service at the emission boundary.
type ServiceEntity struct {
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

// SiteEntities is one site's host membership in discovery order.
type SiteEntities struct {
	Site  string
	Hosts []string
}

// errWriter folds per-line write errors into one, so the emit path reads
// straight through.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// Emitter renders one generator invocation. When structured-export mode is
// on, every emitted block is mirrored into Export().
type Emitter struct {
	meta   Meta
	export *Export
}

func NewEmitter(meta Meta, structured bool) *Emitter {
	e := &Emitter{meta: meta}
	if structured {
		e.export = newExport(meta.Now)
	}
	return e
}

// Export returns the structured mirror, or nil when disabled.
func (e *Emitter) Export() *Export {
	return e.export
}

// Emit writes the full configuration stream, ending with the sentinel
// line.
func (e *Emitter) Emit(w io.Writer, src Source) error {
	ew := &errWriter{w: w}
	m := e.meta

	e.header(ew)
	e.templates(ew)

	hosts := src.Hosts
	services := src.Services
	sites := src.Sites

	ew.printf("###############################################################################\n")
	ew.printf("###############################################################################\n")
	ew.printf("# Hosts\n\n")

	e.stat(ew, "websites", len(sites))
	e.stat(ew, "AWS MetricAlarms", src.AlarmTotal)
	e.stat(ew, `Nagios AWS "Hosts"`, len(hosts))
	e.stat(ew, "suppressed stale alarms", src.StaleSkips)
	e.stat(ew, "suppressed unconfigured hosts", src.UnconfiguredSkips)
	ew.printf("\n# Note: Host Groups added here are defined in hostgroups.cfg for use in other non-dynamic config files.\n\n")

	for _, n := range src.Notes {
		ew.printf("%s\n", n)
		e.mirrorNote(n)
	}
	ew.printf("\n")

	if m.EmitParentHost {
		e.parentHost(ew)
	}
	for _, h := range hosts {
		e.host(ew, h)
	}

	ew.printf("###############################################################################\n")
	ew.printf("# Services\n\n")
	for _, s := range services {
		e.service(ew, s)
	}
	e.stat(ew, "Nagios AWS Services", len(services))
	ew.printf("\n\n")

	e.groups(ew, hosts, services, sites)

	ew.printf("%s%s\n", CompletedPrefix, m.Now.Format(timeLayout))
	return ew.err
}

func (e *Emitter) header(ew *errWriter) {
	m := e.meta
	ew.printf("#################################################\n")
	ew.printf("# THIS CONFIG FILE IS AUTOMATICALLY GENERATED\n")
	ew.printf("#################################################\n")
	ew.printf("#\n# If you edit this file, it will be over-written!\n#\n\n")
	ew.printf("# This config file generated: %s\n\n", m.Now.Format(timeLayout))
	ew.printf("# Config input to this script was: %s\n\n", m.ConfigFile)
	ew.printf("# Arguments passed to generate this config: --profile=%s --appStack=%s\n\n", m.Profile, m.AppStack)
	ew.printf("# Note: Search this file for the string %q to see statistics on the number of objects.\n\n\n", StatsLeadingText)
}

// templates import the active-check templates from hosts.cfg and
// services.cfg. Check intervals are deliberately lazy: passive SNS input
// carries the real alarm conditions, active checks only fill the gaps.
func (e *Emitter) templates(ew *errWriter) {
	m := e.meta
	ew.printf("###############################################################################\n")
	ew.printf("###############################################################################\n")
	ew.printf("# Templates\n\n")
	ew.printf("# Note: Template names are automatically generated, ending with %q to differentiate from other AWS customers.\n", "-"+m.CustomerShortName)
	ew.printf("# %q is a default, which is expected to be replaced by a value from \"nagiosContactGroupAlarms\" out of the site config file.\n\n", m.DefaultContactGroup)

	ew.printf("define host {\n")
	ew.printf("\tname\t\t\t\taws-host-CloudWatch-Alarm-%s\n", m.CustomerShortName)
	ew.printf("\tuse\t\t\t\taws-host-active-check-%s\n", m.CustomerShortName)
	ew.printf("\tcontact_groups\t\t\t%s\n", m.DefaultContactGroup)
	ew.printf("\tregister\t\t\t0\n")
	ew.printf("}\n\n\n")

	ew.printf("define service {\n")
	ew.printf("\tname\t\t\t\taws-service-CloudWatch-Alarm-%s\n", m.CustomerShortName)
	ew.printf("\tuse\t\t\t\taws-service-active-check-%s\n", m.CustomerShortName)
	ew.printf("\tcontact_groups\t\t\t%s\n", m.DefaultContactGroup)
	ew.printf("\tcheck_command\t\t\tcheck_AWS_CloudWatch_Alarm!%s\n", m.Profile)
	ew.printf("\tnotification_options\t\tu,c,r,f,s\n")
	ew.printf("\tcheck_interval\t\t\t30\n")
	ew.printf("\tretry_interval\t\t\t25\n")
	ew.printf("\tnotification_interval\t\t30\n")
	ew.printf("\tmax_check_attempts\t\t1\n")
	ew.printf("\tevent_handler\t\t\tsubmit_AWS_config_refresh!%s!Nagios config in sync - %s AWS CloudWatch Alarms\n", m.NagiosMasterName, m.CustomerShortName)
	ew.printf("\tregister\t\t\t0\n")
	ew.printf("}\n\n\n\n")
}

// parentHost is the shared per-account host every derived host parents to.
// Only the owning stack's invocation emits it.
func (e *Emitter) parentHost(ew *errWriter) {
	m := e.meta
	record := map[string]string{
		"use":            "aws-host-CloudWatch-Alarm-" + m.CustomerShortName,
		"host_name":      m.parentHostName(),
		"alias":          m.CustomerLongName + " AWS account",
		"contact_groups": m.DefaultContactGroup,
		"notes_url":      m.consoleSignin(),
	}

	ew.printf("# Shared parent host for the %s AWS account.\n", m.Profile)
	ew.printf("define host {\n")
	ew.printf("\tuse\t\t\t%s\n", record["use"])
	ew.printf("\thost_name\t\t%s\n", record["host_name"])
	ew.printf("\talias\t\t\t%s\n", record["alias"])
	ew.printf("\tcontact_groups\t\t%s\n", record["contact_groups"])
	ew.printf("\tnotes_url\t\t%s\n", record["notes_url"])
	ew.printf("}\n\n\n\n")

	e.mirrorHost(record)
}

func (e *Emitter) host(ew *errWriter, h HostEntity) {
	m := e.meta
	notes := fmt.Sprintf(`Notes: AWS Account "<a href=%q>%s</a>". For links directly to the Alarms and to the %s, see the Action and Notes URLs on <a href="/nagios/cgi-bin/status.cgi?host=%s">each Nagios Service for this Host</a>.`,
		m.consoleSignin(), m.Profile, h.Origin, h.Name)

	record := map[string]string{
		"use":            "aws-host-CloudWatch-Alarm-" + m.CustomerShortName,
		"host_name":      h.Name,
		"_AWS_Data":      h.ShortSite + ":" + h.Origin,
		"hostgroups":     m.CustomerShortName + " in AWS - All",
		"parents":        m.parentHostName(),
		"contact_groups": h.ContactGroup,
		"notes":          notes,
		"notes_url":      m.consoleSignin(),
	}

	ew.printf("define host {\n")
	ew.printf("\tuse\t\t\t%s\n", record["use"])
	ew.printf("\thost_name\t\t%s\n", record["host_name"])
	ew.printf("\t_AWS_Data\t\t%s\n", record["_AWS_Data"])
	ew.printf("\thostgroups\t\t%s\n", record["hostgroups"])
	ew.printf("\tparents\t\t\t%s\n", record["parents"])
	ew.printf("\tcontact_groups\t\t%s\n", record["contact_groups"])
	ew.printf("\tnotes\t\t\t%s\n", record["notes"])
	ew.printf("\tnotes_url\t\t%s\n", record["notes_url"])
	ew.printf("}\n\n\n\n")

	e.mirrorHost(record)
}

func (e *Emitter) service(ew *errWriter, s ServiceEntity) {
	m := e.meta
	notes := fmt.Sprintf(`Notes: %s (%s = <a href=%q>%s</a>, AlarmName = "<a href='%s'>%s</a>", Namespace = %s, MetricName = %s, Actual Alarm Evaluation Period = %s, AWS Account = <a href=%q>%s</a>)`,
		s.Description, s.PrimaryDimension, s.ActionURL, s.ResourceID,
		s.NotesURL, s.AlarmName, s.Namespace, s.MetricName, s.EvalWindow,
		m.consoleSignin(), m.Profile)

	record := map[string]string{
		"use":                 "aws-service-CloudWatch-Alarm-" + m.CustomerShortName,
		"host_name":           s.HostName,
		"service_description": s.Name,
		"_AWS_Data":           s.AlarmName,
		"contact_groups":      s.ContactGroup,
		"notes":               notes,
		"notes_url":           s.NotesURL,
		"action_url":          s.ActionURL,
	}

	ew.printf("define service {\n")
	ew.printf("\tuse\t\t\t\t%s\n", record["use"])
	ew.printf("\thost_name\t\t\t%s\n", record["host_name"])
	ew.printf("\tservice_description\t\t%s\n", record["service_description"])
	ew.printf("\t_AWS_Data\t\t\t%s\n", record["_AWS_Data"])
	ew.printf("\tcontact_groups\t\t\t%s\n", record["contact_groups"])
	ew.printf("\tnotes\t\t\t\t%s\n", record["notes"])
	ew.printf("\tnotes_url\t\t\t%s\n", record["notes_url"])
	ew.printf("\taction_url\t\t\t%s\n", record["action_url"])
	ew.printf("}\n\n\n\n")

	e.mirrorService(record)
}

func (e *Emitter) groups(ew *errWriter, hosts []HostEntity, services []ServiceEntity, sites []SiteEntities) {
	m := e.meta

	if len(hosts) > 0 {
		names := make([]string, len(hosts))
		for i, h := range hosts {
			names[i] = h.Name
		}
		ew.printf("###############################################################################\n")
		ew.printf("# Hostgroups\n\n")
		e.hostgroup(ew,
			m.CustomerShortName+" in AWS - Incoming Alarms",
			m.CustomerLongName+" AWS Incoming SNS",
			strings.Join(names, ","))
	}

	for _, site := range sites {
		if len(site.Hosts) == 0 {
			continue
		}
		e.hostgroup(ew,
			m.CustomerShortName+" in AWS - site "+site.Site,
			site.Site+" "+m.CustomerLongName,
			strings.Join(site.Hosts, ","))
	}

	if len(services) > 0 {
		members := make([]string, 0, len(services)*2)
		for _, s := range services {
			members = append(members, s.HostName, s.Name)
		}
		ew.printf("###############################################################################\n")
		ew.printf("# Servicegroups\n\n")

		record := map[string]string{
			"servicegroup_name": m.CustomerShortName + " in AWS",
			"alias":             m.CustomerShortName + " Service Checks from AWS",
			"members":           strings.Join(members, ","),
		}
		ew.printf("define servicegroup {\n")
		ew.printf("\tservicegroup_name\t%s\n", record["servicegroup_name"])
		ew.printf("\talias\t\t\t%s\n", record["alias"])
		ew.printf("\tmembers\t\t\t%s\n", record["members"])
		ew.printf("}\n\n\n\n")
		e.mirrorServicegroup(record)
	}
}

func (e *Emitter) hostgroup(ew *errWriter, name, alias, members string) {
	record := map[string]string{
		"hostgroup_name": name,
		"alias":          alias,
		"members":        members,
	}
	ew.printf("define hostgroup {\n")
	ew.printf("\thostgroup_name\t%s\n", record["hostgroup_name"])
	ew.printf("\talias\t\t%s\n", record["alias"])
	ew.printf("\tmembers\t\t%s\n", record["members"])
	ew.printf("}\n\n\n\n")
	e.mirrorHostgroup(record)
}

func (e *Emitter) stat(ew *errWriter, what string, n int) {
	line := fmt.Sprintf("# %s %s: %d", StatsLeadingText, what, n)
	ew.printf("%s\n", line)
	e.mirrorNote(line)
}

func (e *Emitter) mirrorHost(r map[string]string) {
	if e.export != nil {
		e.export.Hosts = append(e.export.Hosts, r)
	}
}

func (e *Emitter) mirrorService(r map[string]string) {
	if e.export != nil {
		e.export.Services = append(e.export.Services, r)
	}
}

func (e *Emitter) mirrorHostgroup(r map[string]string) {
	if e.export != nil {
		e.export.Hostgroups = append(e.export.Hostgroups, r)
	}
}

func (e *Emitter) mirrorServicegroup(r map[string]string) {
	if e.export != nil {
		e.export.Servicegroups = append(e.export.Servicegroups, r)
	}
}

func (e *Emitter) mirrorNote(n string) {
	if e.export != nil {
		e.export.Notes = append(e.export.Notes, n)
	}
}
