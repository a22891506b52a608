package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestResolve(t *testing.T) {
	r := New(time.Minute, time.Second)
	r.Register(Backend{Name: "layout_remote", BaseURL: "http://layout:9006", Capabilities: []Capability{CapLayout}}, nil)

	url, ok := r.Resolve("layout_remote")
	require.True(t, ok)
	assert.Equal(t, "http://layout:9006", url)

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}

func TestMarkDegradedHidesBackend(t *testing.T) {
	r := New(time.Minute, time.Second)
	r.Register(Backend{Name: "layout_remote", BaseURL: "http://layout:9006"}, nil)

	r.MarkDegraded("layout_remote", errors.New("HTTP 500"))

	_, ok := r.Resolve("layout_remote")
	assert.False(t, ok)
	assert.Equal(t, HealthDegraded, r.Health("layout_remote"))

	// unknown names are ignored
	r.MarkDegraded("nope", errors.New("x"))
}

func TestIsAvailable(t *testing.T) {
	r := New(time.Minute, time.Second)
	r.Register(Backend{Name: "vision", Capabilities: []Capability{CapVisionLLM, CapEmbeddings}}, nil)

	// unknown health does not count as available
	assert.False(t, r.IsAvailable(CapVisionLLM))

	r.mu.Lock()
	r.backends["vision"].health = HealthHealthy
	r.mu.Unlock()

	assert.True(t, r.IsAvailable(CapVisionLLM))
	assert.True(t, r.IsAvailable(CapEmbeddings))
	assert.False(t, r.IsAvailable(CapLayout))
}

func TestProberLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(time.Hour, time.Second)
	r.Register(Backend{Name: "ocr_fallback", BaseURL: srv.URL, Capabilities: []Capability{CapOCR}},
		HTTPProbe(srv.Client(), srv.URL+"/health"))
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return r.Health("ocr_fallback") == HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, r.IsAvailable(CapOCR))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestProbeFailureDowngrades(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(time.Hour, time.Second)
	r.Register(Backend{Name: "layout_remote", BaseURL: srv.URL},
		HTTPProbe(srv.Client(), srv.URL+"/health"))
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return r.Health("layout_remote") == HealthDegraded
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := r.Resolve("layout_remote")
	assert.False(t, ok)

	snaps := r.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "layout_remote", snaps[0].Name)
	assert.Equal(t, "HTTP 500", snaps[0].Detail)
}

func TestStaticProbe(t *testing.T) {
	ok := StaticProbe(true, "")
	assert.NoError(t, ok(context.Background()))

	missing := StaticProbe(false, "API key missing")
	err := missing(context.Background())
	require.Error(t, err)
	assert.Equal(t, "API key missing", err.Error())
}

func TestSnapshotsSorted(t *testing.T) {
	r := New(time.Minute, time.Second)
	r.Register(Backend{Name: "vision_llm"}, nil)
	r.Register(Backend{Name: "layout_remote"}, nil)
	r.Register(Backend{Name: "ocr_fallback"}, nil)

	snaps := r.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "layout_remote", snaps[0].Name)
	assert.Equal(t, "ocr_fallback", snaps[1].Name)
	assert.Equal(t, "vision_llm", snaps[2].Name)
}
