package accesslog

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sangoma/gotftp"
)

func TestLogSuccess(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.InfoLevel)
	l := New(base)

	req := &tftp.Request{Filename: "boot.bin", Method: tftp.RRQ, TraceID: "abc"}
	l.Log(req, 1024, 50*time.Millisecond, nil)

	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != logrus.InfoLevel {
		t.Errorf("expected info level, got %v", e.Level)
	}
	if e.Data["filename"] != "boot.bin" {
		t.Errorf("expected filename field, got %v", e.Data["filename"])
	}
	if e.Data["bytes"] != uint64(1024) {
		t.Errorf("expected bytes field, got %v", e.Data["bytes"])
	}
}

func TestLogFailure(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.WarnLevel)
	l := New(base)

	req := &tftp.Request{Filename: "missing.bin", Method: tftp.WRQ, TraceID: "def"}
	l.Log(req, 0, time.Millisecond, errors.New("boom"))

	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != logrus.WarnLevel {
		t.Errorf("expected warn level, got %v", entries[0].Level)
	}
}
