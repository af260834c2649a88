package version

import (
	"runtime"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.Commit == "" {
		t.Error("Commit should not be empty")
	}
	if info.Date == "" {
		t.Error("Date should not be empty")
	}

	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}

	expectedPlatform := runtime.GOOS + "/" + runtime.GOARCH
	if info.Platform != expectedPlatform {
		t.Errorf("Platform = %q, want %q", info.Platform, expectedPlatform)
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{
		Version: "2.1.0",
		Commit:  "deadbeef",
		Date:    "2026-06-01",
	}

	got := info.String()
	expected := "2.1.0 (deadbeef) built 2026-06-01"
	if got != expected {
		t.Errorf("String() = %q, want %q", got, expected)
	}
}

func TestInfo_Short(t *testing.T) {
	info := Info{Version: "1.2.3"}
	if got := info.Short(); got != "1.2.3" {
		t.Errorf("Short() = %q, want %q", got, "1.2.3")
	}
}
