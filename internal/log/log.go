package log

import (
	"go.uber.org/zap"
)

var logger = zap.NewNop()

// Init builds the process logger. Both binaries write logs to stderr only:
// the generator's stdout is the Nagios config stream.
func Init(debug bool) error {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func Get() *zap.Logger {
	return logger
}
