package notify

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
)

func TestNewSenderVariants(t *testing.T) {
	for _, channel := range []string{"email", "webhook", "log", ""} {
		sender, err := NewSender(channel, nil)
		if err != nil {
			t.Fatalf("channel %q: %v", channel, err)
		}
		if sender == nil {
			t.Fatalf("channel %q: nil sender", channel)
		}
	}
}

func TestNewSenderUnknownChannel(t *testing.T) {
	if _, err := NewSender("carrier-pigeon", nil); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestSendWritesToLogger(t *testing.T) {
	var buf bytes.Buffer
	sender, err := NewSender("email", log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	n := Notification{UserID: "u1", Subject: "garmin sync failed", Body: "stopped after 4 attempts"}
	if err := sender.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "u1") || !strings.Contains(out, "garmin sync failed") {
		t.Fatalf("unexpected log output: %s", out)
	}
}
