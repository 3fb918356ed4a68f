package inspector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("path = %s, want /status", r.URL.Path)
		}
		w.Write([]byte(`{"serverStatus":"Active","localhostURL":"http://localhost:3000","zrokURL":"https://abc.share.zrok.io"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if !st.BackendActive() {
		t.Error("BackendActive() = false, want true")
	}
	if st.LocalhostURL != "http://localhost:3000" || st.ZrokURL != "https://abc.share.zrok.io" {
		t.Errorf("Status = %+v", st)
	}
}

func TestStatusErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	_, err := c.Status(context.Background())
	if err == nil || !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Status error = %v, want status 500 with body", err)
	}
}

func TestConfigure(t *testing.T) {
	var gotPort, gotOption string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/configure" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		gotPort = r.FormValue("port")
		gotOption = r.FormValue("zrok_option")
		http.Redirect(w, r, "/inspector/dashboard", http.StatusSeeOther)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	err := c.Configure(context.Background(), ConfigureRequest{Port: 3000, ZrokOption: "public"})
	if err != nil {
		t.Fatalf("Configure error: %v", err)
	}
	if gotPort != "3000" || gotOption != "public" {
		t.Errorf("form port=%q zrok_option=%q", gotPort, gotOption)
	}
}

func TestConfigureRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Backend server on port 3000 is not reachable", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	err := c.Configure(context.Background(), ConfigureRequest{Port: 3000})
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("Configure error = %v", err)
	}
}

func TestConfigureValidation(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1", time.Second)
	for _, cr := range []ConfigureRequest{{Port: 0}, {Port: 70000}, {Port: 80, ZrokPort: -1}} {
		if err := c.Configure(context.Background(), cr); err == nil {
			t.Errorf("Configure(%+v) expected validation error", cr)
		}
	}
}
