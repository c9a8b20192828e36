// Package testing switches the process into test mode when imported by a
// test binary, so entrypoints skip migrations, bootstrap and network startup.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("PRIVADOME_TEST_MODE", "1")
		if os.Getenv("CORE_HOST") == "" {
			_ = os.Setenv("CORE_HOST", "127.0.0.1")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
