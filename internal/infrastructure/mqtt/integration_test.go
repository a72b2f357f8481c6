//go:build integration

package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestConnectAndHealth(t *testing.T) {
	client, err := Connect(integrationConfig("fieldmesh-test-health"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	cfg := integrationConfig("fieldmesh-test-refused")
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestRetainedAnnouncementRoundTrip(t *testing.T) {
	pub, err := Connect(integrationConfig("fieldmesh-test-pub"))
	if err != nil {
		t.Fatalf("Connect(pub) error = %v", err)
	}
	defer pub.Close()

	topics := Topics{Prefix: "fieldmesh-test"}
	topic := topics.Announce("sensor", "thermo-it")
	if err := pub.PublishRetained(topic, []byte(`{"id":"thermo-it"}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	sub, err := Connect(integrationConfig("fieldmesh-test-sub"))
	if err != nil {
		t.Fatalf("Connect(sub) error = %v", err)
	}
	defer sub.Close()

	var mu sync.Mutex
	var payloads []string
	got := make(chan struct{}, 4)
	err = sub.Subscribe(topics.AnnounceRole("sensor"), 1, func(_ string, payload []byte) error {
		mu.Lock()
		payloads = append(payloads, string(payload))
		mu.Unlock()
		got <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(topics.AnnounceRole("sensor")) {
		t.Error("HasSubscription() = false")
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("retained announcement not delivered")
	}

	if err := pub.ClearRetained(topic); err != nil {
		t.Fatalf("ClearRetained() error = %v", err)
	}
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("clear not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if payloads[0] != `{"id":"thermo-it"}` || payloads[len(payloads)-1] != "" {
		t.Errorf("payloads = %q", payloads)
	}

	if err := sub.Unsubscribe(topics.AnnounceRole("sensor")); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d", sub.SubscriptionCount())
	}
}
