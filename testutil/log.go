package testutil

import (
	"os"

	"github.com/casklog/casklog/log"
)

// NewTestLogger returns a development logger when CASKLOG_TEST_LOG is set and
// a no-op logger otherwise.
func NewTestLogger() log.Logger {
	if os.Getenv("CASKLOG_TEST_LOG") != "" {
		return log.New()
	}
	return log.NewNop()
}
