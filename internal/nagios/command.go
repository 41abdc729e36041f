// Package nagios formats and delivers passive check results to the
// monitoring server's external command channel.
package nagios

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Status is a Nagios plugin exit level.
type Status int

const (
	StatusOK       Status = 0
	StatusWarning  Status = 1
	StatusCritical Status = 2
	StatusUnknown  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// FormatServiceCheck renders one external command line:
//
//	[<unix-timestamp>] PROCESS_SERVICE_CHECK_RESULT;<host>;<service>;<0-3>;<info>
func FormatServiceCheck(ts time.Time, host, service string, status Status, info string) string {
	return fmt.Sprintf("[%d] PROCESS_SERVICE_CHECK_RESULT;%s;%s;%d;%s",
		ts.Unix(), host, service, int(status), info)
}

// Sink accepts one formatted command line.
type Sink interface {
	Submit(line string) error
}

// PipeSink appends lines to the Nagios command pipe. The file is opened
// and closed per submission; append writes at this size interleave safely
// between concurrent requests, so no locking is needed.
type PipeSink struct {
	Path string
}

func (s *PipeSink) Submit(line string) error {
	f, err := os.OpenFile(s.Path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return errors.Wrapf(err, "opening command pipe %s", s.Path)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return errors.Wrapf(err, "writing to command pipe %s", s.Path)
	}
	return nil
}

// FreshnessSink records heartbeat deliveries so an external watchdog can
// tell the pipeline is alive independent of real alarms firing.
type FreshnessSink struct {
	Path string
}

func (s *FreshnessSink) Record(ts time.Time, source string) error {
	f, err := os.OpenFile(s.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening freshness file %s", s.Path)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d %s\n", ts.Unix(), source); err != nil {
		return errors.Wrapf(err, "writing freshness file %s", s.Path)
	}
	return nil
}
