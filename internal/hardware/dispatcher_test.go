package hardware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ostiary-io/ostiary-core/internal/door"
)

func testIssuer() *TokenIssuer {
	return NewTokenIssuer(testSecret, TokenModeStatic, 0)
}

func directDoor(url string) *door.Door {
	return &door.Door{
		ID:     "door-001",
		SiteID: "site-1",
		Number: 4,
		Endpoint: door.Endpoint{
			Mode: door.ModeDirect,
			URL:  url,
		},
	}
}

func TestDispatcher_Direct(t *testing.T) {
	issuer := testIssuer()

	t.Run("sends door, token, and pulse", func(t *testing.T) {
		var gotPath, gotDoor, gotToken, gotPulse string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotDoor = r.URL.Query().Get("door")
			gotToken = r.URL.Query().Get("token")
			gotPulse = r.URL.Query().Get("pulse_ms")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		d := NewDispatcher(nil, issuer, 1500, 2*time.Second, nil)
		out := d.Dispatch(context.Background(), directDoor(server.URL))

		if out.Err != nil {
			t.Fatalf("Dispatch() err = %v", out.Err)
		}
		if !out.Success || out.Queued {
			t.Errorf("Outcome = %+v, want direct success", out)
		}
		if gotPath != "/open" {
			t.Errorf("path = %q, want /open", gotPath)
		}
		if gotDoor != "4" {
			t.Errorf("door = %q, want 4", gotDoor)
		}
		if gotToken != issuer.StaticToken("site-1", "door-001", 4) {
			t.Errorf("token = %q, want static token for door-001", gotToken)
		}
		if gotPulse != "1500" {
			t.Errorf("pulse_ms = %q, want 1500", gotPulse)
		}
	})

	t.Run("door pulse override beats default", func(t *testing.T) {
		var gotPulse string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPulse = r.URL.Query().Get("pulse_ms")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		dr := directDoor(server.URL)
		dr.PulseMs = 3000

		d := NewDispatcher(nil, issuer, 1500, 2*time.Second, nil)
		if out := d.Dispatch(context.Background(), dr); out.Err != nil {
			t.Fatalf("Dispatch() err = %v", out.Err)
		}
		if gotPulse != "3000" {
			t.Errorf("pulse_ms = %q, want 3000", gotPulse)
		}
	})

	t.Run("controller rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		d := NewDispatcher(nil, issuer, 1500, 2*time.Second, nil)
		out := d.Dispatch(context.Background(), directDoor(server.URL))

		if out.Success {
			t.Error("Outcome.Success = true, want false")
		}
		if !errors.Is(out.Err, ErrControllerRejected) {
			t.Errorf("Outcome.Err = %v, want ErrControllerRejected", out.Err)
		}
	})

	t.Run("unreachable controller", func(t *testing.T) {
		d := NewDispatcher(nil, issuer, 1500, 500*time.Millisecond, nil)
		out := d.Dispatch(context.Background(), directDoor("http://127.0.0.1:1"))

		if out.Success {
			t.Error("Outcome.Success = true, want false")
		}
		if out.Err == nil {
			t.Error("Outcome.Err = nil, want connection error")
		}
	})

	t.Run("slow controller times out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		d := NewDispatcher(nil, issuer, 1500, 50*time.Millisecond, nil)
		out := d.Dispatch(context.Background(), directDoor(server.URL))

		if out.Err == nil {
			t.Error("Outcome.Err = nil, want timeout error")
		}
	})

	t.Run("missing URL", func(t *testing.T) {
		d := NewDispatcher(nil, issuer, 1500, time.Second, nil)
		out := d.Dispatch(context.Background(), directDoor(""))

		if !errors.Is(out.Err, ErrNoEndpoint) {
			t.Errorf("Outcome.Err = %v, want ErrNoEndpoint", out.Err)
		}
	})
}

func TestDispatcher_Queued(t *testing.T) {
	issuer := testIssuer()

	t.Run("parks command for controller poll", func(t *testing.T) {
		q := setupTestQueue(t)
		d := NewDispatcher(q, issuer, 1500, time.Second, nil)

		dr := &door.Door{
			ID:     "door-q",
			SiteID: "site-1",
			Number: 7,
			Endpoint: door.Endpoint{
				Mode:         door.ModeQueued,
				ControllerID: "ctrl-01",
			},
		}

		out := d.Dispatch(context.Background(), dr)
		if out.Err != nil {
			t.Fatalf("Dispatch() err = %v", out.Err)
		}
		if !out.Success || !out.Queued {
			t.Errorf("Outcome = %+v, want queued success", out)
		}

		commands, err := q.FetchPending(context.Background(), "ctrl-01")
		if err != nil {
			t.Fatalf("FetchPending() error = %v", err)
		}
		if len(commands) != 1 {
			t.Fatalf("FetchPending() count = %d, want 1", len(commands))
		}
		cmd := commands[0]
		if cmd.DoorID != "door-q" || cmd.DoorNumber != 7 || cmd.PulseMs != 1500 {
			t.Errorf("Command = %+v, want door-q / 7 / 1500ms", cmd)
		}
		if cmd.Token != issuer.StaticToken("site-1", "door-q", 7) {
			t.Errorf("Token = %q, want static token for door-q", cmd.Token)
		}
	})

	t.Run("missing controller ID", func(t *testing.T) {
		d := NewDispatcher(setupTestQueue(t), issuer, 1500, time.Second, nil)
		dr := &door.Door{
			ID:       "door-q",
			SiteID:   "site-1",
			Number:   7,
			Endpoint: door.Endpoint{Mode: door.ModeQueued},
		}

		out := d.Dispatch(context.Background(), dr)
		if !errors.Is(out.Err, ErrNoEndpoint) {
			t.Errorf("Outcome.Err = %v, want ErrNoEndpoint", out.Err)
		}
	})
}

func TestDispatcher_UnknownMode(t *testing.T) {
	d := NewDispatcher(nil, testIssuer(), 1500, time.Second, nil)
	dr := &door.Door{
		ID:       "door-x",
		SiteID:   "site-1",
		Number:   1,
		Endpoint: door.Endpoint{Mode: door.DispatchMode("SEMAPHORE")},
	}

	out := d.Dispatch(context.Background(), dr)
	if !errors.Is(out.Err, ErrNoEndpoint) {
		t.Errorf("Outcome.Err = %v, want ErrNoEndpoint", out.Err)
	}
}
