package testutil

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	testing "github.com/mitchellh/go-testing-interface"
)

type testFn func() (bool, error)
type errorFn func(error)

// WaitForResult calls test every 10ms until it succeeds or runs out of
// retries, then hands the last error to onErr.
func WaitForResult(test testFn, onErr errorFn) {
	retries := 500 * TestMultiplier()
	var err error
	for ; retries > 0; retries-- {
		var ok bool
		if ok, err = test(); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err == nil {
		err = errors.New("max number of retries exceeded")
	}
	onErr(err)
}

// WaitForHealthy blocks until the node serving addr answers /healthz.
func WaitForHealthy(t testing.T, addr string) {
	WaitForResult(func() (bool, error) {
		resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
		if err != nil {
			return false, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false, fmt.Errorf("healthz: %s", resp.Status)
		}
		return true, nil
	}, func(err error) {
		t.Fatalf("%s never became healthy: %v", addr, err)
	})
}

// TestMultiplier returns a multiplier for retries and waits given environment
// the tests are being run under.
func TestMultiplier() int64 {
	return 1
}
