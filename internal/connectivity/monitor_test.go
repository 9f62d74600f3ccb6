package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetOnlineInvokesObserversInOrder(t *testing.T) {
	m := New(WithInitialOnline(false))

	var got []string
	m.OnOnline(func() { got = append(got, "first") })
	m.OnOnline(func() { got = append(got, "second") })
	m.OnOffline(func() { got = append(got, "lost") })

	m.SetOnline(true)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("online observers ran as %v, want [first second]", got)
	}

	m.SetOnline(false)
	if len(got) != 3 || got[2] != "lost" {
		t.Errorf("offline observer did not run, got %v", got)
	}
}

func TestSetOnlineSameStateIsNoOp(t *testing.T) {
	m := New(WithInitialOnline(true))

	fired := 0
	m.OnOnline(func() { fired++ })

	m.SetOnline(true)
	m.SetOnline(true)
	if fired != 0 {
		t.Errorf("observers fired %d times without a transition", fired)
	}
	if !m.Online() {
		t.Error("state flipped unexpectedly")
	}
}

func TestProbeDetectsServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New(WithProbeURL(srv.URL), WithInitialOnline(false), WithInterval(time.Minute))
	status := m.Probe(context.Background())
	if !status.IsOnline {
		t.Error("probe against live server reported offline")
	}
	if status.Target != srv.URL {
		t.Errorf("Target = %q, want %q", status.Target, srv.URL)
	}
	if status.CheckedAt.IsZero() {
		t.Error("CheckedAt not recorded")
	}

	srv.Close()
	status = m.Probe(context.Background())
	if status.IsOnline {
		t.Error("probe against closed server reported online")
	}
}

func TestProbeTransitionNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New(WithProbeURL(srv.URL), WithInitialOnline(false), WithInterval(time.Minute))
	regained := false
	m.OnOnline(func() { regained = true })

	m.Probe(context.Background())
	if !regained {
		t.Error("OnOnline observer not invoked on regained connectivity")
	}
}
