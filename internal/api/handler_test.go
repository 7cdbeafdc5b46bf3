package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trendrbot/trendrbot/internal/assistant"
	"github.com/trendrbot/trendrbot/internal/config"
	"github.com/trendrbot/trendrbot/internal/generation"
	"github.com/trendrbot/trendrbot/internal/query"
	"github.com/trendrbot/trendrbot/internal/storage"
)

type stubAssistant struct {
	answer    assistant.Answer
	err       error
	questions []string
}

func (s *stubAssistant) Ask(_ context.Context, question string) (assistant.Answer, error) {
	s.questions = append(s.questions, question)
	return s.answer, s.err
}

func (s *stubAssistant) Catalog() assistant.Catalog {
	return assistant.DefaultCatalog()
}

func loadTestConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("trendrbot-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func postAsk(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var decoded map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return rr, decoded
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["service"] != "trendrbot-api" || body["backend"] != "bigquery" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskEndpointReturnsAnswer(t *testing.T) {
	stub := &stubAssistant{answer: assistant.Answer{
		ID:      "ask-1",
		Kind:    assistant.KindAnswered,
		Text:    "Vappu is trending.",
		Route:   "Finland",
		Source:  assistant.LabelInternationalTrends,
		Country: "Finland",
	}}
	h := NewHandler(loadTestConfig(t), Dependencies{Assistant: stub})

	rr, body := postAsk(t, h, `{"question":"What's popular in Finland?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%v", rr.Code, body)
	}
	if body["answer"] != "Vappu is trending." || body["kind"] != "answered" || body["country"] != "Finland" || body["ask_id"] != "ask-1" {
		t.Fatalf("body = %v", body)
	}
	if len(stub.questions) != 1 || stub.questions[0] != "What's popular in Finland?" {
		t.Fatalf("questions = %v", stub.questions)
	}
}

func TestAskEndpointValidatesRequest(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{Assistant: &stubAssistant{}})

	rr, body := postAsk(t, h, `{"question":"  "}`)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "QUESTION_REQUIRED" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}

	rr, body = postAsk(t, h, `{"prompt":"x"}`)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "INVALID_JSON" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestAskEndpointMapsErrors(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		code      string
		retryable bool
		message   string
	}{
		{
			err:     query.NewExecError(query.KindPermissionDenied, errors.New("Access Denied")),
			status:  http.StatusBadGateway,
			code:    "QUERY_FAILED",
			message: "ERROR: Insufficient permissions - Access Denied",
		},
		{
			err:       query.NewExecError(query.KindConflict, errors.New("job collided")),
			status:    http.StatusBadGateway,
			code:      "QUERY_FAILED",
			retryable: true,
			message:   "ERROR: Concurrent modification - job collided",
		},
		{
			err:       fmt.Errorf("generate answer: %w", generation.ErrEmptyResponse),
			status:    http.StatusBadGateway,
			code:      "GENERATION_FAILED",
			retryable: true,
		},
		{
			err:    fmt.Errorf("classify question: %w", generation.ErrBlocked),
			status: http.StatusUnprocessableEntity,
			code:   "GENERATION_BLOCKED",
		},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			stub := &stubAssistant{answer: assistant.Answer{ID: "ask-2", Route: "Finland"}, err: tc.err}
			h := NewHandler(loadTestConfig(t), Dependencies{Assistant: stub})

			rr, body := postAsk(t, h, `{"question":"What's popular in Finland?"}`)
			if rr.Code != tc.status || body["error_code"] != tc.code || body["retryable"] != tc.retryable {
				t.Fatalf("status = %d body = %v", rr.Code, body)
			}
			if tc.message != "" && body["message"] != tc.message {
				t.Fatalf("message = %v", body["message"])
			}
			extra, _ := body["context"].(map[string]any)
			if extra["ask_id"] != "ask-2" {
				t.Fatalf("context = %v", body["context"])
			}
		})
	}
}

func TestAskEndpointWithoutAssistant(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{})
	rr, body := postAsk(t, h, `{"question":"hi"}`)
	if rr.Code != http.StatusNotImplemented || body["error_code"] != "ASK_NOT_CONFIGURED" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestSourcesEndpoint(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{Assistant: &stubAssistant{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sources", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body struct {
		Sources []struct {
			Label string `json:"label"`
		} `json:"sources"`
		Countries     []string `json:"countries"`
		CountrySource string   `json:"country_source"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body.Sources) != 2 || body.Sources[0].Label != assistant.LabelUSTrends {
		t.Fatalf("sources = %+v", body.Sources)
	}
	if len(body.Countries) != 41 || body.CountrySource != assistant.LabelInternationalTrends {
		t.Fatalf("countries = %d source = %q", len(body.Countries), body.CountrySource)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckGCPProject(t *testing.T) {
	cfg := loadTestConfig(t)
	if err := CheckGCPProject(cfg)(context.Background()); err == nil {
		t.Fatal("expected error without project on bigquery backend")
	}
	cfg.Query.ProjectID = "my-project"
	if err := CheckGCPProject(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckGCPProject() error = %v", err)
	}
	cfg.Query.ProjectID = ""
	cfg.Query.Backend = config.BackendDuckDB
	if err := CheckGCPProject(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckGCPProject() duckdb error = %v", err)
	}
}

func TestCheckSnapshots(t *testing.T) {
	catalog := assistant.DefaultCatalog()
	store := &statStore{present: map[string]bool{"google_trends/top_terms.parquet": true}}

	err := CheckSnapshots(store, catalog)(context.Background())
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("CheckSnapshots() error = %v", err)
	}
	if !strings.Contains(err.Error(), "google_trends/international_top_terms.parquet") {
		t.Fatalf("CheckSnapshots() error = %v, want missing key named", err)
	}

	store.present["google_trends/international_top_terms.parquet"] = true
	if err := CheckSnapshots(store, catalog)(context.Background()); err != nil {
		t.Fatalf("CheckSnapshots() error = %v", err)
	}

	if err := CheckSnapshots(nil, catalog)(context.Background()); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>"+r.Method+"</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("question=hi")))
	if rr.Code != http.StatusOK || rr.Body.String() != "<html>POST</html>" {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

type statStore struct {
	present map[string]bool
}

func (s *statStore) Put(_ context.Context, key string, _ io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	s.present[key] = true
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (s *statStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if !s.present[key] {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (s *statStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	if !s.present[key] {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key}, nil
}
