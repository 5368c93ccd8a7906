package util

import (
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

func init() {
	spew.Config.Indent = ""
}

// Dump formats i on a single line for debug logs.
func Dump(i interface{}) string {
	return strings.Replace(spew.Sdump(i), "\n", "", -1)
}

// Verbose reports whether CASKLOGDEBUG turns on verbose logs for component,
// as in CASKLOGDEBUG=broker=1,server=1.
func Verbose(component string) bool {
	for _, kv := range strings.Split(os.Getenv("CASKLOGDEBUG"), ",") {
		if strings.TrimSpace(kv) == component+"=1" {
			return true
		}
	}
	return false
}
