package action

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lancejames221b/playbook-engine/core"
)

func TestExecute_Noop(t *testing.T) {
	e := NewExecutor()
	out, err := e.Execute(context.Background(), Noop, map[string]interface{}{"message": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["message"] != "hi" {
		t.Errorf("message = %v, want hi", out["message"])
	}
}

func TestExecute_Wait(t *testing.T) {
	e := NewExecutor()
	start := time.Now()
	out, err := e.Execute(context.Background(), Wait, map[string]interface{}{"seconds": 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("expected execWait to actually sleep")
	}
	if out["slept"] != 0.01 {
		t.Errorf("slept = %v, want 0.01", out["slept"])
	}
}

func TestExecute_Wait_ContextCanceled(t *testing.T) {
	e := NewExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, Wait, map[string]interface{}{"seconds": 5.0})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestExecute_HTTPRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	e := NewExecutor()
	out, err := e.Execute(context.Background(), HTTPRequest, map[string]interface{}{
		"url":    server.URL,
		"method": "POST",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status_code"] != http.StatusCreated {
		t.Errorf("status_code = %v, want 201", out["status_code"])
	}
	body, ok := out["body_json"].(map[string]interface{})
	if !ok || body["ok"] != true {
		t.Errorf("body_json = %v", out["body_json"])
	}
}

func TestExecute_HTTPRequest_NonTwoxxDoesNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	e := NewExecutor()
	out, err := e.Execute(context.Background(), HTTPRequest, map[string]interface{}{"url": server.URL})
	if err != nil {
		t.Fatalf("http_request must never error on non-2xx, got: %v", err)
	}
	if out["status_code"] != http.StatusInternalServerError {
		t.Errorf("status_code = %v, want 500", out["status_code"])
	}
}

func TestExecute_HTTPRequest_MissingURL(t *testing.T) {
	e := NewExecutor()
	_, err := e.Execute(context.Background(), HTTPRequest, map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestExecute_Shell_DisabledByDefault(t *testing.T) {
	e := NewExecutor()
	_, err := e.Execute(context.Background(), Shell, map[string]interface{}{"command": "echo hi"})
	if err != core.ErrShellDisabled {
		t.Fatalf("expected ErrShellDisabled, got %v", err)
	}
}

func TestExecute_Shell_EnabledSuccess(t *testing.T) {
	e := NewExecutor(WithShellEnabled(true))
	out, err := e.Execute(context.Background(), Shell, map[string]interface{}{"command": "echo hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["returncode"] != 0 {
		t.Errorf("returncode = %v, want 0", out["returncode"])
	}
	if out["stdout"] != "hello\n" {
		t.Errorf("stdout = %q, want %q", out["stdout"], "hello\n")
	}
}

func TestExecute_Shell_NonZeroExit(t *testing.T) {
	e := NewExecutor(WithShellEnabled(true))
	out, err := e.Execute(context.Background(), Shell, map[string]interface{}{"command": "exit 3"})
	if err == nil {
		t.Fatal("expected error for nonzero exit code")
	}
	if out["returncode"] != 3 {
		t.Errorf("returncode = %v, want 3", out["returncode"])
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	e := NewExecutor()
	_, err := e.Execute(context.Background(), "bogus", nil)
	if err == nil {
		t.Fatal("expected error for unknown action type")
	}
}
