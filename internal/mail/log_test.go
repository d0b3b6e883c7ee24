package mail

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"linqyard.app/internal/obs"
)

func TestLogPublisherRedactsCode(t *testing.T) {
	var buf bytes.Buffer
	obs.Logger().SetOutput(&buf)
	defer obs.Logger().SetOutput(os.Stdout)

	p := NewLogPublisher()
	err := p.Publish(context.Background(), Event{
		Kind:      KindVerification,
		Email:     "a@b.c",
		Code:      "SECRETC0DE",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	line := buf.String()
	if strings.Contains(line, "SECRETC0DE") {
		t.Fatalf("log line leaks the code: %s", line)
	}
	for _, want := range []string{KindVerification, "a@b.c", `"has_code":true`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %q: %s", want, line)
		}
	}
}
