package notifications_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gomail "gopkg.in/mail.v2"

	"compintel/internal/articles"
	"compintel/internal/config"
	"compintel/internal/notifications"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func enabledConfig() *config.Config {
	cfg := config.Default()
	cfg.Notifications = config.Notifications{
		Enabled:  true,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		From:     "bot@example.com",
		To:       []string{"ops@example.com", "lead@example.com"},
	}
	return &cfg
}

func sampleSummary() notifications.RunSummary {
	return notifications.RunSummary{
		RunID:    "run-1",
		Duration: 95 * time.Second,
		Crawled:  12,
		Batches: map[articles.Status]int{
			articles.StatusDone:  4,
			articles.StatusError: 1,
		},
		Records:  7,
		Matched:  3,
		Failures: []string{"match: registry unavailable"},
	}
}

func TestNewServiceReturnsNoopWhenDisabled(t *testing.T) {
	cfg := config.Default()
	dialer := &fakeDialer{err: errors.New("should not dial")}
	svc := notifications.NewService(&cfg, notifications.WithDialer(dialer))
	if err := svc.NotifyRunCompleted(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}

	cfg = *enabledConfig()
	cfg.Notifications.To = nil
	svc = notifications.NewService(&cfg, notifications.WithDialer(dialer))
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop without recipients, got %v", err)
	}
}

func TestNotifyRunCompletedSendsSummary(t *testing.T) {
	dialer := &fakeDialer{}
	svc := notifications.NewService(enabledConfig(), notifications.WithDialer(dialer))

	if err := svc.NotifyRunCompleted(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if len(dialer.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(dialer.sent))
	}
	msg := dialer.sent[0]
	if got := msg.GetHeader("Subject"); len(got) != 1 || got[0] != "[compintel] run finished with errors: 7 records" {
		t.Fatalf("unexpected subject %v", got)
	}
	if got := msg.GetHeader("To"); len(got) != 2 {
		t.Fatalf("unexpected recipients %v", got)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	body := buf.String()
	for _, want := range []string{"Run run-1", "Duration: 1m35s", "text/html", "FAILURES"} {
		if !strings.Contains(body, want) {
			t.Fatalf("message missing %q:\n%s", want, body)
		}
	}
}

func TestOnlyOnFailureSkipsCleanRuns(t *testing.T) {
	cfg := enabledConfig()
	cfg.Notifications.OnlyOnFailure = true
	dialer := &fakeDialer{}
	svc := notifications.NewService(cfg, notifications.WithDialer(dialer))

	clean := notifications.RunSummary{RunID: "ok", Batches: map[articles.Status]int{articles.StatusDone: 2}}
	if err := svc.NotifyRunCompleted(context.Background(), clean); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if len(dialer.sent) != 0 {
		t.Fatalf("clean run should not be mailed")
	}
	if err := svc.NotifyRunCompleted(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if len(dialer.sent) != 1 {
		t.Fatalf("failed run should be mailed")
	}
}

func TestSendErrorsAreWrapped(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	svc := notifications.NewService(enabledConfig(), notifications.WithDialer(dialer))
	err := svc.NotifyError(context.Background(), errors.New("boom"), "extract")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped dial error, got %v", err)
	}
}

func TestCancelledContextSkipsDelivery(t *testing.T) {
	dialer := &fakeDialer{}
	svc := notifications.NewService(enabledConfig(), notifications.WithDialer(dialer))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.TestNotification(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if len(dialer.sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestRunSummaryBatchRows(t *testing.T) {
	rows := sampleSummary().BatchRows()
	var parts []string
	for _, row := range rows {
		parts = append(parts, row.Status)
	}
	if len(rows) != 3 || rows[0].Status != "DONE" || rows[0].Count != 4 {
		t.Fatalf("unexpected rows %v", parts)
	}
}
