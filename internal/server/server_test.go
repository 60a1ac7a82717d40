package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"backend-zachatter/internal/config"
	"backend-zachatter/internal/post"

	"github.com/pashagolub/pgxmock/v3"
)

func testConfig() config.Config {
	return config.Config{
		ServerPort:    ":0",
		StoreBackend:  config.BackendMemory,
		MaxAgeMinutes: 150,
		MaxDistanceKm: 0.2,
		MaxPhotoBytes: 1 << 20,
	}
}

func TestHealthRoute(t *testing.T) {
	s := NewServer(testConfig(), Backends{}, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestMetricsRoute(t *testing.T) {
	s := NewServer(testConfig(), Backends{}, nil)

	_, _ = s.App.Test(httptest.NewRequest("GET", "/health", nil))
	resp, err := s.App.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("metrics status: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "zachatter_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestFallsBackToMemoryStores(t *testing.T) {
	cfg := testConfig()
	cfg.StoreBackend = config.BackendPostgres
	s := NewServer(cfg, Backends{}, nil)
	if _, ok := s.Posts.(*post.MemoryStore); !ok {
		t.Fatalf("expected memory store without a database, got %T", s.Posts)
	}

	cfg.StoreBackend = config.BackendFirestore
	s = NewServer(cfg, Backends{}, nil)
	if _, ok := s.Posts.(*post.MemoryStore); !ok {
		t.Fatalf("expected memory store without firestore, got %T", s.Posts)
	}
}

func TestUsesPostgresWhenAvailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	cfg := testConfig()
	cfg.StoreBackend = config.BackendPostgres
	s := NewServer(cfg, Backends{DB: mock}, nil)
	defer s.Close()
	if _, ok := s.Posts.(*post.Service); !ok {
		t.Fatalf("expected postgres store, got %T", s.Posts)
	}
}

func TestPostThenVisible(t *testing.T) {
	s := NewServer(testConfig(), Backends{}, nil)

	body, _ := json.Marshal(map[string]any{"message": "hello", "lat": 35.0, "lng": 135.0})
	req := httptest.NewRequest(http.MethodPost, "/posts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %v", err)
	}

	resp, err = s.App.Test(httptest.NewRequest(http.MethodGet, "/posts/visible?lat=35&lng=135", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("visible status: %v", err)
	}
	var posts []post.Post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil || len(posts) != 1 {
		t.Fatalf("expected one visible post, got %v %+v", err, posts)
	}
}

func TestStreamRouteRequiresUpgrade(t *testing.T) {
	s := NewServer(testConfig(), Backends{}, nil)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/stream/ws/abc", nil))
	if err != nil || resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %v", err)
	}
}
