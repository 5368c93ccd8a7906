// Package codec contains the encodings a topic's log can be stored under
// when the whole log lives in a single store value.
package codec

import (
	"fmt"
	"sort"

	"github.com/casklog/casklog"
)

var codecs = map[string]casklog.Codec{}

func register(c casklog.Codec) {
	if _, ok := codecs[c.Name()]; ok {
		panic(fmt.Sprintf("codec %s is already registered", c.Name()))
	}
	codecs[c.Name()] = c
}

func init() {
	register(JSON{})
	register(Lines{})
	register(Msgpack{})
}

// Lookup returns the codec registered under name.
func Lookup(name string) (casklog.Codec, error) {
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (have %v)", name, Names())
	}
	return c, nil
}

// Names returns the registered codec names, sorted.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
