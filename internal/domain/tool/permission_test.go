package tool

import (
	"context"
	"testing"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"go.uber.org/zap"
)

func TestBrokerAwaitApproved(t *testing.T) {
	perms := newMemPermissions()
	broker := NewPermissionBroker(perms, zap.NewNop())

	id, err := broker.Create(context.Background(), &entity.PermissionRequest{
		SessionID: "s1", ToolName: "run_shell", Action: "execute", Path: "ls",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := broker.Update(context.Background(), id, entity.PermissionApproved); err != nil {
		t.Fatal(err)
	}

	status := broker.Await(context.Background(), id, 5*time.Second)
	if status != entity.PermissionApproved {
		t.Errorf("status = %q, want approved", status)
	}
}

func TestBrokerAwaitDenied(t *testing.T) {
	perms := newMemPermissions()
	broker := NewPermissionBroker(perms, zap.NewNop())

	id, _ := broker.Create(context.Background(), &entity.PermissionRequest{ToolName: "run_shell"})
	_ = broker.Update(context.Background(), id, entity.PermissionDenied)

	if status := broker.Await(context.Background(), id, 5*time.Second); status != entity.PermissionDenied {
		t.Errorf("status = %q, want denied", status)
	}
}

func TestBrokerAwaitDeadline(t *testing.T) {
	perms := newMemPermissions()
	broker := NewPermissionBroker(perms, zap.NewNop())

	id, _ := broker.Create(context.Background(), &entity.PermissionRequest{ToolName: "run_shell"})

	start := time.Now()
	status := broker.Await(context.Background(), id, time.Millisecond)
	if status != entity.PermissionTimeout {
		t.Fatalf("status = %q, want timeout", status)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("deadline observation took too long")
	}

	// The request row itself is transitioned to timeout.
	record, err := broker.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != entity.PermissionTimeout {
		t.Errorf("stored status = %q, want timeout", record.Status)
	}
}

func TestBrokerCreateIsPending(t *testing.T) {
	perms := newMemPermissions()
	broker := NewPermissionBroker(perms, zap.NewNop())

	id, _ := broker.Create(context.Background(), &entity.PermissionRequest{ToolName: "write_file"})
	record, err := broker.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != entity.PermissionPending {
		t.Errorf("new request status = %q, want pending", record.Status)
	}

	pending, err := broker.ListPending(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending count = %d, want 1", len(pending))
	}
}
