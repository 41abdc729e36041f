package nagioscfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Export is the structured mirror of the generated configuration,
// consumed by the GUI-driven monitoring console's bulk importer.
type Export struct {
	Hosts          []map[string]string `json:"hosts"`
	Services       []map[string]string `json:"services"`
	Hostgroups     []map[string]string `json:"hostgroups"`
	Servicegroups  []map[string]string `json:"servicegroups"`
	Notes          []string            `json:"notes"`
	TimeStamp      int64               `json:"timeStamp"`
	TimeStampHuman string              `json:"timeStampHuman"`
}

func newExport(now time.Time) *Export {
	return &Export{
		Hosts:          []map[string]string{},
		Services:       []map[string]string{},
		Hostgroups:     []map[string]string{},
		Servicegroups:  []map[string]string{},
		Notes:          []string{},
		TimeStamp:      now.Unix(),
		TimeStampHuman: now.Format(timeLayout),
	}
}

// WriteAtomic writes the export to a staging file, then relocates it into
// the serving directory, so a consumer never observes a partial document.
// An advisory exclusive lock (keyed on profile and stack) guards against a
// second concurrent invocation of the same generator; the lock is held
// across the whole write-and-relocate sequence.
//
// It returns the final serving path.
func (ex *Export) WriteAtomic(stagingDir, servingDir, profile, appStack string) (string, error) {
	name := fmt.Sprintf("%s-%s-%d.json", profile, appStack, ex.TimeStamp)
	stagingPath := filepath.Join(stagingDir, name)
	servingPath := filepath.Join(servingDir, name)

	lock := flock.New(filepath.Join(stagingDir, profile+"-"+appStack+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return "", errors.Wrap(err, "locking export staging file")
	}
	if !locked {
		return "", errors.Errorf("another %s/%s export is in progress", profile, appStack)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(ex, "", "    ")
	if err != nil {
		return "", errors.WithStack(err)
	}

	if err := os.WriteFile(stagingPath, data, 0o644); err != nil {
		return "", errors.Wrap(err, "writing export staging file")
	}
	if err := os.Rename(stagingPath, servingPath); err != nil {
		return "", errors.Wrap(err, "relocating export into serving location")
	}
	return servingPath, nil
}
