package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// recordingMetrics collects metric writes.
type recordingMetrics struct {
	mu           sync.Mutex
	temperatures []float64
	queries      []map[string]int
}

func (m *recordingMetrics) WriteTemperature(_, _ string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.temperatures = append(m.temperatures, value)
}

func (m *recordingMetrics) WriteQueryMetric(_ string, outcomes map[string]int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, outcomes)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	h := NewHierarchy(ManagerConfig{DefaultTimeout: time.Second, MaxTimeout: 5 * time.Second}, nil)
	t.Cleanup(h.Stop)
	return NewService(h)
}

func TestService_TrackDevice(t *testing.T) {
	svc := newTestService(t)
	pub := &recordingPublisher{}
	svc.AddPublisher(pub)
	ctx := context.Background()

	first, err := svc.TrackDevice(ctx, "floor-1", "hall")
	if err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	second, err := svc.TrackDevice(ctx, "floor-1", "hall")
	if err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	if first.Id != second.Id {
		t.Error("same identity returned different workers")
	}
	other, err := svc.TrackDevice(ctx, "floor-2", "hall")
	if err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	if other.Id == first.Id {
		t.Error("different groups share a worker")
	}

	if got := pub.types(); len(got) != 2 {
		t.Errorf("events = %v, want one device.tracked per new worker", got)
	}
	if st := svc.Stats(); st.Tracked != 2 {
		t.Errorf("Stats().Tracked = %d, want 2", st.Tracked)
	}
}

func TestService_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"empty group", func() error { _, err := svc.TrackDevice(ctx, "", "d"); return err }, ErrInvalidGroupID},
		{"slash in device", func() error { _, err := svc.TrackDevice(ctx, "g", "a/b"); return err }, ErrInvalidDeviceID},
		{"wildcard group", func() error { _, err := svc.ListDevices(ctx, "#"); return err }, ErrInvalidGroupID},
		{"negative timeout", func() error { _, err := svc.QueryAllTemperatures(ctx, "g", -time.Second); return err }, ErrInvalidTimeout},
		{"NaN value", func() error { return svc.RecordTemperature(ctx, "g", "d", nan()) }, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_RecordAndRead(t *testing.T) {
	svc := newTestService(t)
	metrics := &recordingMetrics{}
	svc.SetMetrics(metrics)
	ctx := context.Background()

	if _, err := svc.ReadTemperature(ctx, "g", "d"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("ReadTemperature() of untracked device error = %v, want ErrDeviceNotFound", err)
	}

	if _, err := svc.TrackDevice(ctx, "g", "d"); err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	reading, err := svc.ReadTemperature(ctx, "g", "d")
	if err != nil {
		t.Fatalf("ReadTemperature() error = %v", err)
	}
	if _, ok := reading.(TemperatureNotAvailable); !ok {
		t.Errorf("reading = %#v, want TemperatureNotAvailable", reading)
	}

	for i := 0; i < 2; i++ {
		if err := svc.RecordTemperature(ctx, "g", "d", 3.0); err != nil {
			t.Fatalf("RecordTemperature() error = %v", err)
		}
		reading, err = svc.ReadTemperature(ctx, "g", "d")
		if err != nil {
			t.Fatalf("ReadTemperature() error = %v", err)
		}
		if reading != (Temperature{Value: 3.0}) {
			t.Errorf("reading = %#v, want Temperature(3.0)", reading)
		}
	}

	if len(metrics.temperatures) != 2 {
		t.Errorf("temperature metrics = %v, want 2 writes", metrics.temperatures)
	}
}

func TestService_ReadDoesNotRecreatePassivatedDevice(t *testing.T) {
	svc := newTestService(t)
	pub := &recordingPublisher{}
	svc.AddPublisher(pub)
	ctx := context.Background()

	pid, err := svc.TrackDevice(ctx, "g", "d")
	if err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	if err := svc.PassivateDevice(ctx, "g", "d"); err != nil {
		t.Fatalf("PassivateDevice() error = %v", err)
	}

	// Reads right after passivation, before and after the worker is gone.
	if _, err := svc.ReadTemperature(ctx, "g", "d"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ReadTemperature() during passivation error = %v, want ErrDeviceNotFound", err)
	}
	waitTerminated(t, svc.root, pid)
	if _, err := svc.ReadTemperature(ctx, "g", "d"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ReadTemperature() after passivation error = %v, want ErrDeviceNotFound", err)
	}

	list, err := svc.ListDevices(ctx, "g")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(list.IDs) != 0 {
		t.Errorf("IDs = %v, want empty", list.IDs)
	}
	if st := svc.Stats(); st.Tracked != 1 {
		t.Errorf("Stats().Tracked = %d, want 1", st.Tracked)
	}
	if got := pub.types(); len(got) != 2 || got[1] != EventDevicePassivated {
		t.Errorf("events = %v, want tracked then passivated only", got)
	}
}

func TestService_StoppedHierarchyIsUnavailable(t *testing.T) {
	h := NewHierarchy(ManagerConfig{}, nil)
	svc := NewService(h)
	h.Stop()

	_, err := svc.ListDevices(context.Background(), "g")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("ListDevices() on stopped hierarchy error = %v, want ErrUnavailable", err)
	}
	if st := svc.Stats(); st.AskFailures != 1 {
		t.Errorf("Stats().AskFailures = %d, want 1", st.AskFailures)
	}
}

func TestService_ContextDeadlineEndsRequest(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.ListDevices(ctx, "g"); !errors.Is(err, ErrTimeout) {
		t.Errorf("ListDevices() with cancelled context error = %v, want ErrTimeout", err)
	}
}

func TestService_RecordTracksUnknownDevice(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.RecordTemperature(ctx, "g", "new", 19.5); err != nil {
		t.Fatalf("RecordTemperature() error = %v", err)
	}
	list, err := svc.ListDevices(ctx, "g")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if !sameSet(list.IDs, idSet("new")) {
		t.Errorf("IDs = %v, want {new}", list.IDs)
	}
}

func TestService_ListDevices(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	list, err := svc.ListDevices(ctx, "empty")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(list.IDs) != 0 || list.RequestID == 0 {
		t.Errorf("list = %+v, want empty set with a request id", list)
	}

	for _, id := range []string{"d1", "d2"} {
		if _, err := svc.TrackDevice(ctx, "g", id); err != nil {
			t.Fatalf("TrackDevice() error = %v", err)
		}
	}
	list, err = svc.ListDevices(ctx, "g")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if !sameSet(list.IDs, idSet("d1", "d2")) {
		t.Errorf("IDs = %v, want {d1 d2}", list.IDs)
	}
}

func TestService_QueryAllTemperatures(t *testing.T) {
	svc := newTestService(t)
	queryLog := NewSQLiteQueryLogRepository(setupTestDB(t))
	svc.SetQueryLog(queryLog)
	metrics := &recordingMetrics{}
	svc.SetMetrics(metrics)
	pub := &recordingPublisher{}
	svc.AddPublisher(pub)
	ctx := context.Background()

	if err := svc.RecordTemperature(ctx, "g", "d1", 1.0); err != nil {
		t.Fatalf("RecordTemperature() error = %v", err)
	}
	if _, err := svc.TrackDevice(ctx, "g", "d2"); err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}

	result, err := svc.QueryAllTemperatures(ctx, "g", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("QueryAllTemperatures() error = %v", err)
	}
	assertReadings(t, result.Temperatures, map[string]TemperatureReading{
		"d1": Temperature{Value: 1.0},
		"d2": TemperatureNotAvailable{},
	})
	if result.Summary != (Summary{Total: 2, Temperatures: 1, NoReading: 1}) {
		t.Errorf("Summary = %+v", result.Summary)
	}

	history, err := svc.QueryHistory(ctx, "g", 10)
	if err != nil {
		t.Fatalf("QueryHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].RequestID != result.RequestID {
		t.Errorf("history = %+v, want the query just run", history)
	}
	if len(metrics.queries) != 1 || metrics.queries[0][StatusTemperature] != 1 {
		t.Errorf("query metrics = %v", metrics.queries)
	}

	types := pub.types()
	if types[len(types)-1] != EventQueryCompleted {
		t.Errorf("last event = %s, want %s", types[len(types)-1], EventQueryCompleted)
	}
}

func TestService_QueryUnknownGroup(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.QueryAllTemperatures(context.Background(), "nobody", 0)
	if err != nil {
		t.Fatalf("QueryAllTemperatures() error = %v", err)
	}
	if len(result.Temperatures) != 0 {
		t.Errorf("Temperatures = %v, want empty", result.Temperatures)
	}
}

func TestService_RequestIDsAreUnique(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	seen := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		list, err := svc.ListDevices(ctx, "g")
		if err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
		if seen[list.RequestID] {
			t.Fatalf("request id %d reused", list.RequestID)
		}
		seen[list.RequestID] = true
	}
}

func TestService_PassivateDevice(t *testing.T) {
	svc := newTestService(t)
	catalog := NewSQLiteCatalogRepository(setupTestDB(t))
	svc.SetCatalog(catalog)
	ctx := context.Background()

	pid, err := svc.TrackDevice(ctx, "g", "d")
	if err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	if err := svc.PassivateDevice(ctx, "g", "d"); err != nil {
		t.Fatalf("PassivateDevice() error = %v", err)
	}
	waitTerminated(t, svc.root, pid)

	if err := svc.PassivateDevice(ctx, "g", "d"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second PassivateDevice() error = %v, want ErrDeviceNotFound", err)
	}

	entries, err := catalog.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("catalog = %+v, want empty", entries)
	}

	fresh, err := svc.TrackDevice(ctx, "g", "d")
	if err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	if fresh.Id == pid.Id {
		t.Error("passivated worker reused")
	}
}

func TestService_PassivateGroup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.PassivateGroup(ctx, "g"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("PassivateGroup() of unknown group error = %v, want ErrGroupNotFound", err)
	}

	pid, err := svc.TrackDevice(ctx, "g", "d")
	if err != nil {
		t.Fatalf("TrackDevice() error = %v", err)
	}
	if err := svc.PassivateGroup(ctx, "g"); err != nil {
		t.Fatalf("PassivateGroup() error = %v", err)
	}
	waitTerminated(t, svc.root, pid)

	list, err := svc.ListDevices(ctx, "g")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(list.IDs) != 0 {
		t.Errorf("IDs = %v, want empty", list.IDs)
	}
}

func TestService_Restore(t *testing.T) {
	db := setupTestDB(t)
	catalog := NewSQLiteCatalogRepository(db)
	ctx := context.Background()

	for _, e := range []struct{ group, device string }{
		{"floor-1", "hall"},
		{"floor-1", "kitchen"},
		{"floor-2", "office"},
		{"floor-2", "bad/id"},
	} {
		if err := catalog.Upsert(ctx, e.group, e.device); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	svc := newTestService(t)
	svc.SetCatalog(catalog)

	n, err := svc.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Restore() = %d, want 3", n)
	}

	list, err := svc.ListDevices(ctx, "floor-1")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if !sameSet(list.IDs, idSet("hall", "kitchen")) {
		t.Errorf("IDs = %v, want {hall kitchen}", list.IDs)
	}

	// Restored devices come back without readings.
	reading, err := svc.ReadTemperature(ctx, "floor-2", "office")
	if err != nil {
		t.Fatalf("ReadTemperature() error = %v", err)
	}
	if _, ok := reading.(TemperatureNotAvailable); !ok {
		t.Errorf("reading = %#v, want TemperatureNotAvailable", reading)
	}
}

func TestService_QueryHistoryWithoutLog(t *testing.T) {
	svc := newTestService(t)
	entries, err := svc.QueryHistory(context.Background(), "g", 10)
	if err != nil {
		t.Fatalf("QueryHistory() error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %v, want empty slice", entries)
	}
}
