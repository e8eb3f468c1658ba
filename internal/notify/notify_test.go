package notify

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/pipeline"
)

func TestPublishingCarriesSummary(t *testing.T) {
	summary := pipeline.RunSummary{
		RunID:            "3f1c",
		SymbolsTotal:     3,
		SymbolsSucceeded: 2,
		SymbolsFailed:    []string{"KMB"},
		Duration:         2 * time.Second,
	}

	msg, err := publishing(summary)
	if err != nil {
		t.Fatalf("publishing: %v", err)
	}
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected message properties %+v", msg)
	}
	if msg.MessageId != "3f1c" {
		t.Errorf("expected run id as message id, got %q", msg.MessageId)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded["run_id"] != "3f1c" || decoded["symbols_total"] != float64(3) {
		t.Errorf("unexpected body %s", msg.Body)
	}
}

func TestNewWithoutURLIsNoop(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	pub, err := New(Config{}, logrus.NewEntry(l))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := pub.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", pub)
	}
	if err := pub.Publish(context.Background(), pipeline.RunSummary{}); err != nil {
		t.Errorf("noop publish: %v", err)
	}
}
