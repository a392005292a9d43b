package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/brightline-ai/concierge/pkg/logging"
)

func TestManagerStartStopInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManager(client, &fakeSender{}, testWorkerConfig(), logging.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartInstance(ctx, "clinic-b", "org-2")
	m.StartInstance(ctx, "clinic-a", "org-1")
	m.StartInstance(ctx, "clinic-a", "org-1")

	if got := m.Instances(); !reflect.DeepEqual(got, []string{"clinic-a", "clinic-b"}) {
		t.Fatalf("expected [clinic-a clinic-b], got %v", got)
	}

	m.StopInstance("clinic-a")
	m.StopInstance("clinic-a")
	if got := m.Instances(); !reflect.DeepEqual(got, []string{"clinic-b"}) {
		t.Fatalf("expected [clinic-b], got %v", got)
	}

	m.StopInstance("clinic-b")
	if got := m.Instances(); len(got) != 0 {
		t.Fatalf("expected no instances, got %v", got)
	}
}

func TestManagerFollowsDiscoveryChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManager(client, &fakeSender{}, testWorkerConfig(), logging.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- m.Run(ctx, []InstanceEvent{{InstanceName: "clinic-a", OrganizationID: "org-1"}})
	}()

	waitFor(func() bool { return len(m.Instances()) == 1 }, 5*time.Second, t)

	// Republish until the subscriber picks it up; starting a running
	// instance is a no-op so repeats are harmless.
	added := InstanceEvent{InstanceName: "clinic-b", OrganizationID: "org-2", Action: "added"}
	waitFor(func() bool {
		if err := PublishInstanceEvent(ctx, client, added); err != nil {
			t.Errorf("publish added: %v", err)
		}
		return len(m.Instances()) == 2
	}, 5*time.Second, t)

	removed := InstanceEvent{InstanceName: "clinic-a", Action: "removed"}
	waitFor(func() bool {
		if err := PublishInstanceEvent(ctx, client, removed); err != nil {
			t.Errorf("publish removed: %v", err)
		}
		instances := m.Instances()
		return len(instances) == 1 && instances[0] == "clinic-b"
	}, 5*time.Second, t)

	cancel()
	select {
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if got := m.Instances(); len(got) != 0 {
		t.Fatalf("expected all workers stopped, got %v", got)
	}
}

func TestManagerIgnoresMalformedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManager(client, &fakeSender{}, testWorkerConfig(), logging.Default(), nil)
	ctx := context.Background()

	m.handleEvent(ctx, ChannelInstanceAdded, "{bad json")
	m.handleEvent(ctx, ChannelInstanceAdded, `{"organization_id":"org-1"}`)
	m.handleEvent(ctx, "wa:instances:unknown", `{"instance_name":"clinic-x"}`)

	if got := m.Instances(); len(got) != 0 {
		t.Fatalf("expected no workers started, got %v", got)
	}
}

func TestPublishInstanceEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	if err := PublishInstanceEvent(ctx, client, InstanceEvent{Action: "added"}); err == nil {
		t.Fatalf("expected error for missing instance name")
	}
	if err := PublishInstanceEvent(ctx, client, InstanceEvent{InstanceName: "x", Action: "renamed"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}

	sub := client.Subscribe(ctx, ChannelInstanceAdded)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ch := sub.Channel()

	evt := InstanceEvent{InstanceName: "clinic-main", OrganizationID: "org-1", Action: "added"}
	if err := PublishInstanceEvent(ctx, client, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		var got InstanceEvent
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if got != evt {
			t.Fatalf("expected %+v, got %+v", evt, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event received")
	}
}
