package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/i474232898/quarter-sensor-simulator/internal/noise"
	"github.com/i474232898/quarter-sensor-simulator/internal/sensors"
	"github.com/i474232898/quarter-sensor-simulator/internal/store"
	"github.com/i474232898/quarter-sensor-simulator/internal/weather"
	"github.com/i474232898/quarter-sensor-simulator/internal/weather/providers"
)

const registryABCD = `id,lat,lng,temp,activated,temp_with_noise
A,51.25,7.15,,true,
B,51.26,7.16,,true,
C,51.27,7.17,,false,
D,51.28,7.18,,true,
`

var testPaths = Paths{
	Registry:   "/data/sensors.csv",
	Partition1: "/data/sensor_1.csv",
	Partition2: "/data/sensor_2.csv",
}

func newFS(t *testing.T, registry string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, testPaths.Registry, []byte(registry), 0o644); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	return fs
}

func cellWith(v float64) *store.GroundTruthCell {
	c := store.NewGroundTruthCell()
	c.Store(&weather.GroundTruth{Value: v, FetchedAt: time.Now().UTC(), Provider: "test"})
	return c
}

func readTable(t *testing.T, fs afero.Fs, path string) sensors.Table {
	t.Helper()
	tbl, err := store.NewFileStore(fs).ReadTable(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return tbl
}

func ids(records []sensors.Record) string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return strings.Join(out, ",")
}

func TestPublish_EndToEnd(t *testing.T) {
	fs := newFS(t, registryABCD)
	p := New(testPaths, store.NewFileStore(fs), cellWith(20.0), noise.NewGenerator())

	res, err := p.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Records != 4 || res.Partition1 != 2 || res.Partition2 != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.CycleID == "" {
		t.Fatal("expected a cycle id")
	}

	full := readTable(t, fs, testPaths.Registry)
	if ids(full.Records) != "A,B,C,D" {
		t.Fatalf("full snapshot ids=%s", ids(full.Records))
	}
	for _, r := range full.Records {
		if !r.HasTemperature() {
			t.Fatalf("%s has no temperature", r.ID)
		}
		if *r.Temp != 20.0 {
			t.Errorf("%s temp=%v want 20", r.ID, *r.Temp)
		}
		if *r.TempWithNoise < 19.0 || *r.TempWithNoise > 21.0 {
			t.Errorf("%s temp_with_noise=%v outside [19, 21]", r.ID, *r.TempWithNoise)
		}
	}
	if full.Records[2].Activated != "false" || full.Records[0].Lat != 51.25 {
		t.Errorf("immutable columns changed: %+v", full.Records)
	}

	if got := ids(readTable(t, fs, testPaths.Partition1).Records); got != "A,B" {
		t.Errorf("partition1=%s want A,B", got)
	}
	if got := ids(readTable(t, fs, testPaths.Partition2).Records); got != "C,D" {
		t.Errorf("partition2=%s want C,D", got)
	}
}

func TestPublish_OddCountSplit(t *testing.T) {
	fs := newFS(t, registryABCD+"E,51.29,7.19,,true,\n")
	p := New(testPaths, store.NewFileStore(fs), cellWith(5), noise.NewGenerator())

	res, err := p.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Partition1+res.Partition2 != res.Records {
		t.Fatalf("partition sizes %d+%d != %d", res.Partition1, res.Partition2, res.Records)
	}
	if got := ids(readTable(t, fs, testPaths.Partition1).Records); got != "A,B" {
		t.Errorf("partition1=%s want A,B", got)
	}
	if got := ids(readTable(t, fs, testPaths.Partition2).Records); got != "C,D,E" {
		t.Errorf("partition2=%s want C,D,E", got)
	}
}

func TestPublish_NoGroundTruthLeavesFilesUntouched(t *testing.T) {
	fs := newFS(t, registryABCD)
	previous := "id,lat,lng,temp,activated,temp_with_noise\nA,51.25,7.15,18,true,18.5\n"
	for _, path := range []string{testPaths.Partition1, testPaths.Partition2} {
		if err := afero.WriteFile(fs, path, []byte(previous), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p := New(testPaths, store.NewFileStore(fs), store.NewGroundTruthCell(), noise.NewGenerator())
	_, err := p.Publish(context.Background())
	if !errors.Is(err, ErrNoGroundTruth) {
		t.Fatalf("expected ErrNoGroundTruth, got %v", err)
	}

	reg, _ := afero.ReadFile(fs, testPaths.Registry)
	if string(reg) != registryABCD {
		t.Errorf("registry modified:\n%s", reg)
	}
	for _, path := range []string{testPaths.Partition1, testPaths.Partition2} {
		b, _ := afero.ReadFile(fs, path)
		if string(b) != previous {
			t.Errorf("%s modified:\n%s", path, b)
		}
	}
}

func TestPublish_RegistryErrors(t *testing.T) {
	tests := []struct {
		name     string
		registry *string
	}{
		{name: "missing file", registry: nil},
		{name: "empty file", registry: ptr("")},
		{name: "bad latitude", registry: ptr("id,lat,lng,temp,activated,temp_with_noise\nA,north,7.15,,true,\n")},
		{name: "no id column", registry: ptr("name,lat,lng\nA,1,2\n")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if tc.registry != nil {
				if err := afero.WriteFile(fs, testPaths.Registry, []byte(*tc.registry), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			p := New(testPaths, store.NewFileStore(fs), cellWith(20), noise.NewGenerator())

			_, err := p.Publish(context.Background())
			if !errors.Is(err, ErrRegistryRead) {
				t.Fatalf("expected ErrRegistryRead, got %v", err)
			}
			if ok, _ := afero.Exists(fs, testPaths.Partition1); ok {
				t.Error("partition1 must not be written after a registry failure")
			}
		})
	}
}

func TestPublish_WriteFailureKeepsPreviousFiles(t *testing.T) {
	base := newFS(t, registryABCD)
	p := New(testPaths, store.NewFileStore(base), cellWith(20), noise.NewGenerator())
	if _, err := p.Publish(context.Background()); err != nil {
		t.Fatalf("seed publish: %v", err)
	}
	before := map[string][]byte{}
	for _, path := range []string{testPaths.Registry, testPaths.Partition1, testPaths.Partition2} {
		before[path], _ = afero.ReadFile(base, path)
	}

	ro := afero.NewReadOnlyFs(base)
	p = New(testPaths, store.NewFileStore(ro), cellWith(25), noise.NewGenerator())
	_, err := p.Publish(context.Background())
	if !errors.Is(err, ErrSnapshotWrite) {
		t.Fatalf("expected ErrSnapshotWrite, got %v", err)
	}

	for path, want := range before {
		got, _ := afero.ReadFile(base, path)
		if string(got) != string(want) {
			t.Errorf("%s changed after failed write", path)
		}
	}
}

func TestPublish_RepeatedCyclesOnlyNoiseDiffers(t *testing.T) {
	fs := newFS(t, registryABCD)
	p := New(testPaths, store.NewFileStore(fs), cellWith(20), noise.NewGenerator())

	if _, err := p.Publish(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := readTable(t, fs, testPaths.Registry)
	if _, err := p.Publish(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := readTable(t, fs, testPaths.Registry)

	if len(first.Records) != len(second.Records) {
		t.Fatalf("record count changed: %d vs %d", len(first.Records), len(second.Records))
	}
	for i := range first.Records {
		a, b := first.Records[i], second.Records[i]
		a.TempWithNoise, b.TempWithNoise = nil, nil
		if a.ID != b.ID || a.Lat != b.Lat || a.Lng != b.Lng || a.Activated != b.Activated || *a.Temp != *b.Temp {
			t.Errorf("row %d differs beyond noise: %+v vs %+v", i, first.Records[i], second.Records[i])
		}
	}
}

// flippingCell returns a different value on every Load.
type flippingCell struct {
	mu    sync.Mutex
	loads int
}

func (c *flippingCell) Load() *weather.GroundTruth {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	return &weather.GroundTruth{Value: float64(c.loads * 10)}
}

func (c *flippingCell) Store(*weather.GroundTruth) {}

func TestPublish_ReadsGroundTruthOncePerCycle(t *testing.T) {
	fs := newFS(t, registryABCD)
	cell := &flippingCell{}
	p := New(testPaths, store.NewFileStore(fs), cell, noise.NewGenerator())

	if _, err := p.Publish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cell.loads != 1 {
		t.Fatalf("expected one ground truth load, got %d", cell.loads)
	}
	for _, r := range readTable(t, fs, testPaths.Registry).Records {
		if *r.Temp != 10 {
			t.Errorf("%s temp=%v want 10", r.ID, *r.Temp)
		}
	}
}

type recordingMirror struct {
	calls   int
	records []sensors.Record
	err     error
}

func (m *recordingMirror) Mirror(_ context.Context, _ string, records []sensors.Record) error {
	m.calls++
	m.records = records
	return m.err
}

func TestPublish_CacheAndMirror(t *testing.T) {
	fs := newFS(t, registryABCD)
	cache := store.NewSnapshotCache()
	mirror := &recordingMirror{err: errors.New("broker down")}
	p := New(testPaths, store.NewFileStore(fs), cellWith(20), noise.NewGenerator(),
		WithCache(cache), WithMirror(mirror))

	res, err := p.Publish(context.Background())
	if err != nil {
		t.Fatalf("mirror failure must not fail the cycle: %v", err)
	}
	if mirror.calls != 1 || len(mirror.records) != 4 {
		t.Fatalf("mirror calls=%d records=%d", mirror.calls, len(mirror.records))
	}

	latest, err := cache.GetLatest()
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.CycleID != res.CycleID || latest.GroundTruth != 20 {
		t.Fatalf("unexpected cached snapshot: %+v", latest)
	}
	if ids(latest.Partition1) != "A,B" || ids(latest.Partition2) != "C,D" {
		t.Fatalf("cached partitions %s / %s", ids(latest.Partition1), ids(latest.Partition2))
	}
}

func TestPublish_KeepsLegacyIDHeader(t *testing.T) {
	fs := newFS(t, "QUARTIER,lat,lng,temp,activated,temp_with_noise\nElberfeld,51.25,7.15,,true,\n")
	p := New(testPaths, store.NewFileStore(fs), cellWith(12), noise.NewGenerator())

	if _, err := p.Publish(context.Background()); err != nil {
		t.Fatal(err)
	}
	b, _ := afero.ReadFile(fs, testPaths.Partition2)
	if !strings.HasPrefix(string(b), "QUARTIER,lat,lng,temp,activated,temp_with_noise\n") {
		t.Fatalf("unexpected header in %q", b)
	}
}

func ptr(s string) *string { return &s }

func TestPublish_AfterProviderOutageIsNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := providers.NewWeatherstackProvider(srv.Client(), providers.WeatherstackConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Query:   "Wuppertal",
	})
	cell := store.NewGroundTruthCell()
	if err := weather.NewService(provider, cell).Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if cell.Load() != nil {
		t.Fatalf("cell should stay absent, got %+v", cell.Load())
	}

	fs := newFS(t, registryABCD)
	_, err := New(testPaths, store.NewFileStore(fs), cell, noise.NewGenerator()).Publish(context.Background())
	if !errors.Is(err, ErrNoGroundTruth) {
		t.Fatalf("expected ErrNoGroundTruth, got %v", err)
	}
	reg, _ := afero.ReadFile(fs, testPaths.Registry)
	if string(reg) != registryABCD {
		t.Errorf("registry modified:\n%s", reg)
	}
	for _, path := range []string{testPaths.Partition1, testPaths.Partition2} {
		if ok, _ := afero.Exists(fs, path); ok {
			t.Errorf("%s should not have been written", path)
		}
	}
}
