package hostcap

import (
	"errors"
	"testing"
)

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		raw  string
		want Severity
		ok   bool
	}{
		{"log", SeverityLog, true},
		{" INFO ", SeverityInfo, true},
		{"warning", SeverityWarn, true},
		{"error", SeverityError, true},
		{"fatal", "", false},
	}
	for _, tc := range cases {
		got, err := ParseSeverity(tc.raw)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseSeverity(%q) = %q, %v", tc.raw, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseSeverity(%q) expected error", tc.raw)
		}
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.InitialValue() != "" || d.InitialLang() != "csharp" {
		t.Fatalf("unexpected defaults %+v", d)
	}
	if d.Width() != 700 || d.Height() != 500 {
		t.Fatalf("unexpected default size %dx%d", d.Width(), d.Height())
	}
}

func TestForwarderAttachDetach(t *testing.T) {
	f := NewForwarder(nil)
	if f.Attached() {
		t.Fatal("expected detached forwarder")
	}
	if f.Width() != 700 {
		t.Fatalf("expected fallback width, got %d", f.Width())
	}

	rec := NewRecorder("x", "json", 10, 20)
	detach := f.Attach(rec)
	f.OnValueChanged("hello")
	f.OnInitDone()
	if f.InitialLang() != "json" || f.Height() != 20 {
		t.Fatal("expected queries to reach attached host")
	}
	if got := rec.ValueChanges(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected value changes %v", got)
	}

	other := NewRecorder("", "plaintext", 1, 1)
	f.Attach(other)
	detach()
	if f.InitialLang() != "plaintext" {
		t.Fatal("stale detach removed the newer host")
	}
}

func TestRecorderLogFailure(t *testing.T) {
	rec := NewRecorder("", "", 0, 0)
	want := errors.New("pipe closed")
	rec.FailLogs(want)
	if err := rec.Log(SeverityWarn, "x"); !errors.Is(err, want) {
		t.Fatalf("Log() error = %v", err)
	}
	if len(rec.Logs()) != 0 {
		t.Fatal("failed log should not be recorded")
	}
}
