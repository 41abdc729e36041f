package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const accountsDoc = `{
  "nagiosMasterName": "nagios.example.edu",
  "defaultContactGroup": "aws-default",
  "accountsByName": {
    "hwp": {
      "www": {
        "customerShortName": "HWP",
        "customerLongName": "Harvard Web Publishing",
        "tagFilters": ["Name=tag:Environment,Values=prod"],
        "applicationSites": [
          {"websiteHostName": "payments-harvard-edu", "nagiosContactGroupAlarms": "hwp-admins"}
        ]
      },
      "api": {
        "customerShortName": "HWPAPI",
        "customerLongName": "Harvard Web Publishing API",
        "tagFilters": [],
        "applicationSites": []
      }
    }
  }
}`

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAccounts(t *testing.T) {
	a, err := LoadAccounts(writeFile(t, "accounts.json", accountsDoc))
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}

	st, err := a.Stack("hwp", "www")
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if st.CustomerShortName != "HWP" {
		t.Fatalf("CustomerShortName = %q", st.CustomerShortName)
	}

	if _, err := a.Stack("nope", "www"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if _, err := a.Stack("hwp", "nope"); err == nil {
		t.Fatal("expected error for unknown stack")
	}
}

func TestAccountsValidateCollectsAllMissing(t *testing.T) {
	a := Accounts{
		AccountsByName: map[string]map[string]Stack{
			"hwp": {"www": {}},
		},
	}
	err := a.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"nagiosMasterName",
		"defaultContactGroup",
		"accountsByName.hwp.www.customerShortName",
		"accountsByName.hwp.www.tagFilters",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestOwnsParentHost(t *testing.T) {
	single := Accounts{AccountsByName: map[string]map[string]Stack{
		"hwp": {"www": {}},
	}}
	if !single.OwnsParentHost("hwp", "www") {
		t.Fatal("single-stack account must own the parent host")
	}

	flagged := Accounts{AccountsByName: map[string]map[string]Stack{
		"hwp": {
			"www": {},
			"api": {ParentHostOwner: true},
		},
	}}
	if !flagged.OwnsParentHost("hwp", "api") {
		t.Fatal("flagged stack must own the parent host")
	}
	if flagged.OwnsParentHost("hwp", "www") {
		t.Fatal("unflagged stack must not own the parent host")
	}
}

// The no-designation fallback picks the first stack by sort order, which
// means the chosen owner can change when the stack set changes. That is a
// documented heuristic safety net, not a guarantee.
func TestParentOwnerFallbackDependsOnStackSet(t *testing.T) {
	a := Accounts{AccountsByName: map[string]map[string]Stack{
		"hwp": {"www": {}, "api": {}},
	}}
	if !a.OwnsParentHost("hwp", "api") {
		t.Fatal("expected api (first by sort order) to own the parent host")
	}
	if a.OwnsParentHost("hwp", "www") {
		t.Fatal("expected www not to own the parent host")
	}

	a.AccountsByName["hwp"]["aaa"] = Stack{}
	if a.OwnsParentHost("hwp", "api") {
		t.Fatal("adding a stack moved ownership; api should no longer own it")
	}
	if !a.OwnsParentHost("hwp", "aaa") {
		t.Fatal("expected aaa to own the parent host after the set changed")
	}
}

func TestLoadReceiver(t *testing.T) {
	path := writeFile(t, "receiver.yml", `
listen: ":8080"
nagios:
  command_file: /usr/local/nagios/var/rw/nagios.cmd
  freshness_file: /usr/local/nagios/var/sns_heartbeat.log
sns:
  restrict_by_topic: true
  allowed_topics: ["arn:aws:sns:*:123456789012:*nagios*"]
  verify_signature: true
  source_domain: "sns.*.amazonaws.com"
`)
	c, err := LoadReceiver(path)
	if err != nil {
		t.Fatalf("LoadReceiver: %v", err)
	}
	if c.Listen != ":8080" || !c.SNS.VerifySignature {
		t.Fatalf("unexpected config %+v", c)
	}
}

func TestLoadReceiverMissingFields(t *testing.T) {
	path := writeFile(t, "receiver.yml", `
sns:
  restrict_by_topic: true
`)
	_, err := LoadReceiver(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"listen", "nagios.command_file", "sns.allowed_topics"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}
