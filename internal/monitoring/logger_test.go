package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op; this must not panic.
	SetLogger(nil)
	Logf("test message")
}

func TestStagef(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	logf := Stagef("a___b", "estimate-q")

	// Installed after Stagef: the prefix must still reach the new logger.
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	logf("q mean %.2f", 0.75)

	want := "[a___b/estimate-q] q mean 0.75"
	if got != want {
		t.Errorf("Stagef() logged %q, want %q", got, want)
	}
}
