package system

import (
	"context"
	"errors"
	"testing"

	core "github.com/ringlogic/fightcore/internal/core/service"
)

type mockService struct {
	name       string
	startCount int
	stopCount  int
	startErr   error
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(context.Context) error {
	m.startCount++
	return m.startErr
}

func (m *mockService) Stop(context.Context) error {
	m.stopCount++
	return nil
}

type describedService struct {
	mockService
	descriptor core.Descriptor
}

func (d *describedService) Descriptor() core.Descriptor { return d.descriptor }

func TestManagerStartStopOrder(t *testing.T) {
	mgr := NewManager()
	services := []*mockService{{name: "a"}, {name: "b"}, {name: "c"}}
	for _, svc := range services {
		if err := mgr.Register(svc); err != nil {
			t.Fatalf("register %s: %v", svc.name, err)
		}
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop manager: %v", err)
	}

	for _, svc := range services {
		if svc.startCount != 1 {
			t.Fatalf("service %s expected start once, got %d", svc.name, svc.startCount)
		}
		if svc.stopCount != 1 {
			t.Fatalf("service %s expected stop once, got %d", svc.name, svc.stopCount)
		}
	}
}

func TestManagerRollbackOnStartFailure(t *testing.T) {
	mgr := NewManager()
	good := &mockService{name: "good"}
	bad := &mockService{name: "bad", startErr: errors.New("boom")}

	if err := mgr.Register(good); err != nil {
		t.Fatalf("register good: %v", err)
	}
	if err := mgr.Register(bad); err != nil {
		t.Fatalf("register bad: %v", err)
	}

	if err := mgr.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if good.stopCount == 0 {
		t.Fatalf("expected good service to be stopped after failure")
	}
}

func TestManagerRegister_NilService(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Register(nil); err == nil {
		t.Fatalf("expected error registering nil service")
	}
}

func TestManagerRegister_AfterStartFails(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Register(&mockService{name: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := mgr.Register(&mockService{name: "late"}); err == nil {
		t.Fatalf("expected registering after start to fail")
	}
}

func TestManagerStop_IsIdempotent(t *testing.T) {
	mgr := NewManager()
	svc := &mockService{name: "a"}
	mgr.Register(svc)
	mgr.Start(context.Background())

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if svc.stopCount != 1 {
		t.Errorf("expected Stop to run once despite two calls, got %d", svc.stopCount)
	}
}

func TestManagerDescriptors_SortedByLayerThenName(t *testing.T) {
	mgr := NewManager()
	mgr.Register(&describedService{
		mockService: mockService{name: "ingestor"},
		descriptor:  core.Descriptor{Name: "ingestor", Layer: core.LayerIngest},
	})
	mgr.Register(&describedService{
		mockService: mockService{name: "harmonizer"},
		descriptor:  core.Descriptor{Name: "harmonizer", Layer: core.LayerCompute},
	})
	mgr.Register(&describedService{
		mockService: mockService{name: "audit-log"},
		descriptor:  core.Descriptor{Name: "audit-log", Layer: core.LayerAudit},
	})
	// A bare mockService with no Descriptor() method must be skipped, not
	// panic the collector.
	mgr.Register(&mockService{name: "no-descriptor"})

	descriptors := mgr.Descriptors()
	if len(descriptors) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descriptors))
	}
	want := []string{"audit-log", "harmonizer", "ingestor"}
	for i, d := range descriptors {
		if d.Name != want[i] {
			t.Errorf("descriptor[%d] = %s, want %s", i, d.Name, want[i])
		}
	}
}
