package avr

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// newTestReporter creates a health reporter with mocks, not started.
func newTestReporter(interval time.Duration) (*HealthReporter, *MockMQTTClient, *MockTransport) {
	mqttClient := NewMockMQTTClient()
	transport := NewMockTransport()

	reporter := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "test-bridge",
		Version:   "test",
		Interval:  interval,
		QoS:       1,
		Publisher: mqttClient,
		Transport: transport,
	})
	return reporter, mqttClient, transport
}

// lastHealth decodes the most recent health message published.
func lastHealth(t *testing.T, mqttClient *MockMQTTClient) HealthMessage {
	t.Helper()

	published := mqttClient.GetPublished()
	var found *mockPublish
	for i := range published {
		if published[i].Topic == "avrbridge/health" {
			found = &published[i]
		}
	}
	if found == nil {
		t.Fatal("no health message published")
	}

	var msg HealthMessage
	if err := json.Unmarshal(found.Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if !found.Retained {
		t.Error("health message should be retained")
	}
	return msg
}

func TestHealthReporter_Healthy(t *testing.T) {
	reporter, mqttClient, transport := newTestReporter(time.Hour)
	transport.stats.MessagesRx = 7
	transport.stats.MessagesTx = 3

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msg := lastHealth(t, mqttClient)
	if msg.Status != HealthHealthy {
		t.Errorf("status = %q, want %q", msg.Status, HealthHealthy)
	}
	if msg.Bridge != "test-bridge" {
		t.Errorf("bridge = %q, want test-bridge", msg.Bridge)
	}
	if msg.Connection == nil || msg.Connection.Status != "connected" {
		t.Errorf("connection = %+v, want connected", msg.Connection)
	}
	if msg.Statistics == nil || msg.Statistics.MessagesReceived != 7 || msg.Statistics.MessagesSent != 3 {
		t.Errorf("statistics = %+v, want rx=7 tx=3", msg.Statistics)
	}
}

func TestHealthReporter_DegradedWhenReceiverDown(t *testing.T) {
	reporter, mqttClient, transport := newTestReporter(time.Hour)
	transport.connected = false

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msg := lastHealth(t, mqttClient)
	if msg.Status != HealthDegraded {
		t.Errorf("status = %q, want %q", msg.Status, HealthDegraded)
	}
	if msg.Reason != "receiver disconnected" {
		t.Errorf("reason = %q, want %q", msg.Reason, "receiver disconnected")
	}
	if msg.Connection == nil || msg.Connection.Status != "disconnected" {
		t.Errorf("connection = %+v, want disconnected", msg.Connection)
	}
}

func TestHealthReporter_DegradedWhenBrokerDown(t *testing.T) {
	reporter, mqttClient, _ := newTestReporter(time.Hour)
	mqttClient.connected = false

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msg := lastHealth(t, mqttClient)
	if msg.Status != HealthDegraded {
		t.Errorf("status = %q, want %q", msg.Status, HealthDegraded)
	}
	if msg.Reason != "MQTT disconnected" {
		t.Errorf("reason = %q, want %q", msg.Reason, "MQTT disconnected")
	}
}

func TestHealthReporter_PublishStarting(t *testing.T) {
	reporter, mqttClient, _ := newTestReporter(time.Hour)

	if err := reporter.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}

	msg := lastHealth(t, mqttClient)
	if msg.Status != HealthStarting {
		t.Errorf("status = %q, want %q", msg.Status, HealthStarting)
	}
}

func TestHealthReporter_StopPublishesStopping(t *testing.T) {
	reporter, mqttClient, _ := newTestReporter(time.Hour)

	reporter.Start(context.Background())
	reporter.Stop()
	reporter.Stop() // must not panic

	msg := lastHealth(t, mqttClient)
	if msg.Status != HealthStopping {
		t.Errorf("final status = %q, want %q", msg.Status, HealthStopping)
	}
}

func TestHealthReporter_PeriodicReporting(t *testing.T) {
	reporter, mqttClient, _ := newTestReporter(10 * time.Millisecond)

	reporter.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	reporter.Stop()

	count := 0
	for _, p := range mqttClient.GetPublished() {
		if p.Topic == "avrbridge/health" {
			count++
		}
	}
	// Initial publish plus at least one tick plus the stopping status
	if count < 3 {
		t.Errorf("published %d health messages, want at least 3", count)
	}
}
