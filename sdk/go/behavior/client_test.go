package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Behavior-Chain/internal/api"
	"Behavior-Chain/internal/recorder"
	bundlecache "Behavior-Chain/internal/storage/redis"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/internal/validation"
)

var actor = common.HexToAddress("0x1234567890123456789012345678901234567890")

func TestListValidationsEncodesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/validations" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "pending,failed" || q.Get("limit") != "5" || q.Get("order") != "asc" || q.Get("agent") != actor.Hex() {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"requests": []ValidationRequest{{Status: "pending"}}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := client.ListValidations(context.Background(), ValidationFilter{
		Statuses:  []string{"pending", "failed"},
		Agent:     &actor,
		Limit:     5,
		Ascending: true,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Status != "pending" {
		t.Fatalf("unexpected requests %+v", got)
	}
}

func TestAPIErrorCarriesGapDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"SEQUENCE_GAP","message":"causal ordering violated","expected":2,"actual":5}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.RecordEvent(context.Background(), Event{Name: "trade_executed", Actor: actor, Sequence: 5})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "SEQUENCE_GAP" || *apiErr.Expected != 2 || *apiErr.Actual != 5 {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Agents(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "服务已关闭" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestClientAgainstServer(t *testing.T) {
	queue := validation.NewMemoryQueue(8)
	store := validation.NewMemoryStore()
	server := api.NewServer(":0", api.Options{
		Recorder:    recorder.New(),
		Cache:       bundlecache.NewLocalBundleCache(0),
		Validations: validation.NewService(store, queue, 3),
		Dictionary:  symbol.NewDictionary(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv := httptest.NewServer(server.Handler(ctx))
	defer srv.Close()

	processor := validation.NewProcessor(store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := client.RecordEvent(ctx, Event{Name: "trade_executed", Actor: actor, Sequence: uint32(i), Result: "profit"}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	history, err := client.History(ctx, actor)
	if err != nil || len(history) != 3 {
		t.Fatalf("history: %v %d", err, len(history))
	}
	last, err := client.LastEvent(ctx, actor)
	if err != nil || last.Sequence != 2 {
		t.Fatalf("last event: %v %+v", err, last)
	}

	bundle, err := client.GenerateProof(ctx, ProofRequest{
		Actor: actor,
		Agent: &AgentPattern{EventType: "trade_executed", ResultFilter: "profit", MinCount: 3},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if bundle.Scheme != "causal" || len(bundle.Events) != 3 || len(bundle.Raw) == 0 {
		t.Fatalf("unexpected bundle %+v", bundle)
	}
	cached, err := client.GetProof(ctx, bundle.ID)
	if err != nil || cached.Root != bundle.Root {
		t.Fatalf("get proof: %v", err)
	}

	verdict, err := client.VerifyProof(ctx, bundle.Raw)
	if err != nil || !verdict.Valid {
		t.Fatalf("verify: %v %+v", err, verdict)
	}
	results, err := client.VerifyBatch(ctx, []json.RawMessage{bundle.Raw, json.RawMessage(`{}`)})
	if err != nil || len(results) != 2 || !results[0] || results[1] {
		t.Fatalf("batch: %v %v", err, results)
	}

	submitted, err := client.SubmitValidation(ctx, ValidationSubmission{AgentID: actor, ProofData: bundle.Raw})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := client.WaitForValidation(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || done.Response == nil || done.Response.Score != 100 {
		t.Fatalf("unexpected validation %+v", done)
	}
	stats, err := client.ValidationStats(ctx, ValidationFilter{})
	if err != nil || stats.Valid != 1 {
		t.Fatalf("stats: %v %+v", err, stats)
	}

	if err := client.ClearEvents(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	agents, err := client.Agents(ctx)
	if err != nil || agents.TotalEvents != 0 {
		t.Fatalf("agents after clear: %v %+v", err, agents)
	}
}
