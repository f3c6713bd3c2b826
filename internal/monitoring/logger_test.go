package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("hello %d", 42)

	if got != "hello 42" {
		t.Errorf("logged %q, want %q", got, "hello 42")
	}
}

func TestSetLoggerNilInstallsNoOp(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	SetLogger(nil)
	Logf("should not panic")
}

func TestPrefixedFollowsCurrentLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	mqttLog := Prefixed("mqtt")

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	mqttLog("connected to %s", "broker")

	if got != "mqtt: connected to broker" {
		t.Errorf("logged %q", got)
	}
}
