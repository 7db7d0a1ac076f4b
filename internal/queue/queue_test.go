package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/matchday-live/scraper/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSSend(t *testing.T) {
	fake := &fakeSQS{}
	sent := time.Date(2026, 8, 29, 17, 2, 0, 0, time.UTC)
	q := &SQS{
		client: fake,
		url:    "https://sqs.eu-west-2.amazonaws.com/1/settlement",
		logger: testLogger,
		now:    func() time.Time { return sent },
	}

	if err := q.Send(context.Background(), 42); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.inputs))
	}
	in := fake.inputs[0]
	if *in.QueueUrl != q.url {
		t.Errorf("queue url = %q", *in.QueueUrl)
	}

	var msg settlementMessage
	if err := json.Unmarshal([]byte(*in.MessageBody), &msg); err != nil {
		t.Fatalf("decode body %q: %v", *in.MessageBody, err)
	}
	if msg.EventID != 42 {
		t.Errorf("event_id = %d, want 42", msg.EventID)
	}
	if !msg.FinishedAt.Equal(sent) {
		t.Errorf("finished_at = %v, want %v", msg.FinishedAt, sent)
	}
}

func TestSQSSendSurfacesError(t *testing.T) {
	q := &SQS{
		client: &fakeSQS{err: errors.New("queue does not exist")},
		url:    "https://sqs.eu-west-2.amazonaws.com/1/settlement",
		logger: testLogger,
		now:    time.Now,
	}
	if err := q.Send(context.Background(), 7); err == nil {
		t.Error("expected the sqs error to surface")
	}
}

func TestNewWithoutURLIsNoop(t *testing.T) {
	q, err := New(context.Background(), config.QueueConfig{}, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := q.(*Noop); !ok {
		t.Fatalf("queue without url = %T, want *Noop", q)
	}
	if err := q.Send(context.Background(), 1); err != nil {
		t.Errorf("noop send should never fail: %v", err)
	}
}
