package voicepool

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/resilience"
)

var errTask = errors.New("task failed")

func mustPool(t *testing.T, name string, files ...string) *Pool {
	t.Helper()
	p, err := New(name, files)
	if err != nil {
		t.Fatalf("New(%q): %v", name, err)
	}
	return p
}

// fastSchedule keeps retry windows short in tests.
func fastSchedule(n int) CheckoutOption {
	return WithSchedule(resilience.Recurs(n, 5*time.Millisecond))
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   []string
		wantErr bool
		wantCap int
	}{
		{name: "two files", files: []string{"v1", "v2"}, wantCap: 2},
		{name: "empty pool", files: nil, wantCap: 0},
		{name: "empty name", files: []string{"v1", ""}, wantErr: true},
		{name: "duplicate", files: []string{"v1", "v1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New("test", tt.files)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Capacity() != tt.wantCap || p.Len() != tt.wantCap || p.InUse() != 0 {
				t.Errorf("cap/len/inuse = %d/%d/%d, want %d/%d/0",
					p.Capacity(), p.Len(), p.InUse(), tt.wantCap, tt.wantCap)
			}
		})
	}
}

func TestWithResource_ReturnsTaskResult(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Neutral", "v1")

	got, err := WithResource(context.Background(), p, func(_ context.Context, file string) (string, error) {
		if p.Len() != 0 {
			t.Errorf("Len() during task = %d, want 0", p.Len())
		}
		return "spoke with " + file, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "spoke with v1" {
		t.Errorf("result = %q", got)
	}
	if !slices.Equal(p.Available(), []string{"v1"}) {
		t.Errorf("Available() = %v, want [v1]", p.Available())
	}
}

func TestWithResource_TaskErrorReleases(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Neutral", "v1", "v2")

	_, err := WithResource(context.Background(), p, func(context.Context, string) (int, error) {
		return 0, errTask
	})
	if !errors.Is(err, errTask) {
		t.Fatalf("err = %v, want errTask", err)
	}
	if errors.Is(err, ErrNoAvailableResource) {
		t.Error("task error must not look like pool exhaustion")
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
}

func TestWithResource_PanicReleases(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Neutral", "v1")

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = p.Do(context.Background(), func(context.Context, string) error {
			panic("boom")
		})
	}()

	if p.Len() != 1 {
		t.Errorf("Len() after panic = %d, want 1", p.Len())
	}
}

func TestWithResource_Exhausted(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Sad", "sad")

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context, string) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	var called atomic.Bool
	start := time.Now()
	err := p.Do(context.Background(), func(context.Context, string) error {
		called.Store(true)
		return nil
	}, fastSchedule(3))

	if !errors.Is(err, ErrNoAvailableResource) {
		t.Fatalf("err = %v, want ErrNoAvailableResource", err)
	}
	var nre *NoAvailableResourceError
	if !errors.As(err, &nre) {
		t.Fatalf("err = %T, want *NoAvailableResourceError", err)
	}
	if nre.Pool != "Sad" || nre.Attempts != 4 {
		t.Errorf("error = %+v, want pool Sad after 4 attempts", nre)
	}
	if called.Load() {
		t.Error("task ran although no voice file was acquired")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("gave up after %v, want at least three retry spacings", elapsed)
	}
}

func TestWithResource_EmptyPoolExhausts(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Nobody")

	err := p.Do(context.Background(), func(context.Context, string) error { return nil }, fastSchedule(1))
	if !errors.Is(err, ErrNoAvailableResource) {
		t.Fatalf("err = %v, want ErrNoAvailableResource", err)
	}
}

func TestWithResource_AcquiresAfterRelease(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Sad", "sad")

	held := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context, string) error {
			close(held)
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}()
	<-held

	got, err := WithResource(context.Background(), p, func(_ context.Context, file string) (string, error) {
		return file, nil
	}, WithSchedule(resilience.Recurs(50, 5*time.Millisecond)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sad" {
		t.Errorf("file = %q, want sad", got)
	}
}

func TestWithResource_CancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Sad", "sad")

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context, string) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Do(ctx, func(context.Context, string) error {
		t.Error("task must not run")
		return nil
	}, WithSchedule(resilience.Forever(time.Hour)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not interrupt the wait")
	}

	close(hold)
	// The first holder's release must still land.
	deadline := time.Now().Add(time.Second)
	for p.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestWithResource_CancelledDuringTaskReleases(t *testing.T) {
	t.Parallel()
	p := mustPool(t, "Neutral", "v1")

	ctx, cancel := context.WithCancel(context.Background())
	err := p.Do(ctx, func(ctx context.Context, _ string) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestWithResource_ExclusiveUnderContention(t *testing.T) {
	t.Parallel()
	files := []string{"v1", "v2", "v3"}
	p := mustPool(t, "Neutral", files...)

	var (
		mu      sync.Mutex
		holders = map[string]int{}
		maxHeld atomic.Int32
		current atomic.Int32
	)

	const workers = 24
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Do(context.Background(), func(_ context.Context, file string) error {
				mu.Lock()
				holders[file]++
				if holders[file] > 1 {
					t.Errorf("voice file %q held by %d callers", file, holders[file])
				}
				mu.Unlock()

				n := current.Add(1)
				for {
					m := maxHeld.Load()
					if n <= m || maxHeld.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)

				mu.Lock()
				holders[file]--
				mu.Unlock()
				return nil
			}, WithSchedule(resilience.Recurs(1000, time.Millisecond)))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if maxHeld.Load() > int32(len(files)) {
		t.Errorf("max concurrent holders = %d, want <= %d", maxHeld.Load(), len(files))
	}
	if !slices.Equal(p.Available(), files) {
		t.Errorf("Available() = %v, want %v", p.Available(), files)
	}
}

func TestWithResource_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p, err := New("Neutral", []string{"v1"}, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = p.Do(context.Background(), func(context.Context, string) error { return nil })
	_ = p.Do(context.Background(), func(context.Context, string) error { return errTask })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	byStatus := map[string]int64{}
	var inUse int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "voicebank.checkout.total":
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("checkout.total data = %T", met.Data)
				}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value("status")
					byStatus[v.AsString()] += dp.Value
				}
			case "voicebank.pool.in_use":
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("pool.in_use data = %T", met.Data)
				}
				for _, dp := range sum.DataPoints {
					inUse = dp.Value
				}
			}
		}
	}
	if byStatus[observe.StatusOK] != 1 || byStatus[observe.StatusTaskError] != 1 {
		t.Errorf("checkouts by status = %v, want ok=1 task_error=1", byStatus)
	}
	if inUse != 0 {
		t.Errorf("in-use gauge = %d, want 0", inUse)
	}
}

func TestWithResource_CountsRetriesNotAttempts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		files       []string
		retries     int
		wantRetries int64
	}{
		{name: "immediate checkout", files: []string{"v1"}, retries: 3, wantRetries: 0},
		{name: "exhausted", files: nil, retries: 3, wantRetries: 3},
		{name: "single attempt", files: nil, retries: 0, wantRetries: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
			m, err := observe.NewMetrics(mp)
			if err != nil {
				t.Fatalf("NewMetrics: %v", err)
			}
			p, err := New("Fear", tt.files, WithMetrics(m))
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			_ = p.Do(context.Background(), func(context.Context, string) error { return nil },
				WithSchedule(resilience.Recurs(tt.retries, time.Millisecond)))

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			var got int64
			for _, sm := range rm.ScopeMetrics {
				for _, met := range sm.Metrics {
					if met.Name != "voicebank.checkout.retries" {
						continue
					}
					sum, ok := met.Data.(metricdata.Sum[int64])
					if !ok {
						t.Fatalf("checkout.retries data = %T", met.Data)
					}
					for _, dp := range sum.DataPoints {
						got += dp.Value
					}
				}
			}
			if got != tt.wantRetries {
				t.Errorf("retries = %d, want %d", got, tt.wantRetries)
			}
		})
	}
}
