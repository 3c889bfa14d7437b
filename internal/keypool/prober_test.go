package keypool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func bearerAuth(req *http.Request, secret string) {
	req.Header.Set("Authorization", "Bearer "+secret)
}

func TestProbeOnce_RecoversUnhealthyCredential(t *testing.T) {
	var probes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if r.Header.Get("Authorization") != "Bearer key-a" {
			t.Errorf("Expected bearer auth with key-a, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, err := New("tts", []string{"key-a"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	cred := pool.Credentials()[0]
	pool.RecordFailure(cred)

	prober := NewProber(pool, server.URL, bearerAuth, time.Minute)
	prober.ProbeOnce(context.Background())

	if probes.Load() != 1 {
		t.Errorf("Expected 1 probe, got %d", probes.Load())
	}
	if !cred.Healthy() {
		t.Error("Expected credential healthy after successful probe")
	}
	if cred.ConsecutiveFailures() != 0 {
		t.Errorf("Expected failures reset, got %d", cred.ConsecutiveFailures())
	}
}

func TestProbeOnce_RecoveryDoesNotAdvanceUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, err := New("tts", []string{"key-a", "key-b"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	creds := pool.Credentials()
	pool.MarkUsed(creds[0])
	pool.RecordFailure(creds[1])

	prober := NewProber(pool, server.URL, bearerAuth, time.Minute)
	prober.ProbeOnce(context.Background())

	// The recovered credential served no request, so it still ranks ahead of
	// the recently used one.
	ranked := pool.RankCandidates(time.Now())
	if len(ranked) != 2 {
		t.Fatalf("Expected 2 ready candidates, got %d", len(ranked))
	}
	if ranked[0].Secret() != "key-b" {
		t.Errorf("Expected recovered key-b ranked first, got %s", ranked[0].Secret())
	}
}

func TestProbeOnce_SkipsHealthyCredentials(t *testing.T) {
	var probes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool, err := New("tts", []string{"key-a", "key-b"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	prober := NewProber(pool, server.URL, bearerAuth, time.Minute)
	prober.ProbeOnce(context.Background())

	if probes.Load() != 0 {
		t.Errorf("Expected no probes for a fully healthy pool, got %d", probes.Load())
	}
}

func TestProbeOnce_FailedProbeLeavesStateAlone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	pool, err := New("tts", []string{"key-a"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	cred := pool.Credentials()[0]
	pool.RecordFailure(cred)
	pool.RecordFailure(cred)

	prober := NewProber(pool, server.URL, bearerAuth, time.Minute)
	prober.ProbeOnce(context.Background())

	if cred.Healthy() {
		t.Error("Expected credential to stay unhealthy after failed probe")
	}
	if cred.ConsecutiveFailures() != 2 {
		t.Errorf("Expected failure streak untouched by failed probe, got %d", cred.ConsecutiveFailures())
	}
}

func TestKick_Coalesces(t *testing.T) {
	pool, err := New("tts", []string{"key-a"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	prober := NewProber(pool, "http://localhost:0", bearerAuth, time.Minute)

	// Repeated kicks without a running loop must never block.
	for i := 0; i < 10; i++ {
		prober.Kick()
	}
}
