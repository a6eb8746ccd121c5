package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, "skywatch ") {
		t.Errorf("version string should start with the binary name, got %q", s)
	}
	if !strings.Contains(s, Version) {
		t.Errorf("version string should contain Version %q, got %q", Version, s)
	}
	if !strings.Contains(s, GitSHA) {
		t.Errorf("version string should contain GitSHA %q, got %q", GitSHA, s)
	}
}
