package listener

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestServeBindErrorIsWrapped(t *testing.T) {
	s := New(Spec{Address: "bad-address-no-port"}, http.NotFoundHandler(), nil, nil)
	err := s.Serve(context.Background())
	if err == nil {
		t.Fatalf("expected a bind error for a malformed address")
	}
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	s := New(Spec{Address: "127.0.0.1:0"}, http.NotFoundHandler(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v after a clean shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after context cancellation")
	}
}

func TestServeHandlesPlaintextRequests(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	const addr = "127.0.0.1:18743"
	s := New(Spec{Address: addr}, handler, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		time.Sleep(25 * time.Millisecond)
		resp, err = http.Get("http://" + addr + "/probe")
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("GET never succeeded: %v", err)
	}
	resp.Body.Close()

	if gotPath != "/probe" {
		t.Fatalf("got path %q, want /probe", gotPath)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after context cancellation")
	}
}
