package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/logging"
)

const testSecret = "whsec-test-1234"

type fixture struct {
	store   *MemoryStore
	service *Service
	outbox  *Outbox
	owner   string
}

func newFixture(t *testing.T, urls ...string) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), outbox: NewOutbox(), owner: "user-1"}
	f.service = NewService(f.store, f.store, f.outbox, nil)
	for _, u := range urls {
		if _, err := f.service.Create(context.Background(), CreateInput{OwnerID: f.owner, URL: u, Secret: testSecret}); err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}
	return f
}

func (f *fixture) emit(t *testing.T, payload Payload) []string {
	t.Helper()
	tx := f.store.Begin()
	_, n, err := f.outbox.Emit(context.Background(), tx, f.owner, payload)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	tx.Commit()
	var ids []string
	for _, d := range tx.deliveries {
		ids = append(ids, d.ID)
	}
	if len(ids) != n {
		t.Fatalf("emit reported %d deliveries, buffered %d", n, len(ids))
	}
	return ids
}

func newTestWorker(store DeliveryStore, maxAttempts int) *Worker {
	return NewWorker(store, WorkerConfig{MaxAttempts: maxAttempts, BatchSize: 20, SweepInterval: time.Hour, Timeout: 2 * time.Second}, logging.Discard())
}

func TestWorkerRetriesUntilDelivered(t *testing.T) {
	var f *fixture
	var deliveryID string
	var calls atomic.Int32
	var seenStatus []string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		d, _ := f.store.Delivery(deliveryID)
		seenStatus = append(seenStatus, d.Status)
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f = newFixture(t, srv.URL)
	deliveryID = f.emit(t, Test{Message: "hi"})[0]
	w := newTestWorker(f.store, 4)

	if n, err := w.ProcessPending(context.Background()); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}
	d, _ := f.store.Delivery(deliveryID)
	if d.Status != DeliveryFailed || d.Attempts != 1 || d.LastResponseCode != 500 || d.DeliveredAt != nil {
		t.Fatalf("after first sweep: %+v", d)
	}

	if _, err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	d, _ = f.store.Delivery(deliveryID)
	if d.Status != DeliveryDelivered || d.Attempts != 2 || d.LastResponseCode != 200 || d.DeliveredAt == nil {
		t.Fatalf("after second sweep: %+v", d)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seenStatus {
		if s != DeliveryProcessing {
			t.Fatalf("row must be processing while the request is in flight, saw %s", s)
		}
	}
}

func TestWorkerStopsAtMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	id := f.emit(t, Test{Message: "hi"})[0]
	w := newTestWorker(f.store, 2)

	for i := 0; i < 4; i++ {
		if _, err := w.ProcessPending(context.Background()); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	d, _ := f.store.Delivery(id)
	if d.Status != DeliveryFailed || d.Attempts != 2 {
		t.Fatalf("expected terminal failed after 2 attempts, got %+v", d)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 POSTs, got %d", got)
	}
	if claimed, _ := f.store.Claim(context.Background(), id, 2); claimed {
		t.Fatal("an exhausted delivery must not be claimable")
	}
}

func TestWorkerRecordsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := newFixture(t, url)
	id := f.emit(t, Test{Message: "hi"})[0]
	if _, err := newTestWorker(f.store, 4).ProcessPending(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	d, _ := f.store.Delivery(id)
	if d.Status != DeliveryFailed || d.Attempts != 1 || d.LastError == "" || d.LastResponseCode != 0 {
		t.Fatalf("expected recorded transport failure, got %+v", d)
	}
}

func TestWorkerTreatsRedirectAsFailure(t *testing.T) {
	var posts, followed atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		http.Redirect(w, r, "/moved", http.StatusFound)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		followed.Add(1)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newFixture(t, srv.URL+"/hook")
	id := f.emit(t, Test{Message: "hi"})[0]
	if _, err := newTestWorker(f.store, 4).ProcessPending(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	d, _ := f.store.Delivery(id)
	if d.Status != DeliveryFailed || d.Attempts != 1 || d.LastResponseCode != http.StatusFound || d.DeliveredAt != nil {
		t.Fatalf("redirect must be recorded as a failed attempt, got %+v", d)
	}
	if posts.Load() != 1 || followed.Load() != 0 {
		t.Fatalf("expected one POST and no follow-up request, got posts=%d followed=%d", posts.Load(), followed.Load())
	}
}

func TestWorkerSkipsDisabledSubscriptions(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	id := f.emit(t, Test{Message: "hi"})[0]
	w := newTestWorker(f.store, 4)
	if n, err := w.ProcessPending(context.Background()); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}

	subs, err := f.service.List(context.Background(), f.owner)
	if err != nil || len(subs) != 1 {
		t.Fatalf("list subscriptions: %v %v", subs, err)
	}
	if err := f.service.Disable(context.Background(), f.owner, subs[0].ID); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if n, err := w.ProcessPending(context.Background()); err != nil || n != 0 {
		t.Fatalf("sweep after disable: n=%d err=%v", n, err)
	}
	if claimed, _ := f.store.Claim(context.Background(), id, 4); claimed {
		t.Fatal("a delivery for a disabled subscription must not be claimable")
	}
	d, _ := f.store.Delivery(id)
	if d.Status != DeliveryFailed || d.Attempts != 1 {
		t.Fatalf("queued delivery should be left as it was, got %+v", d)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected no POST after disable, got %d total", got)
	}
}

func TestWorkerSignsEnvelope(t *testing.T) {
	type received struct {
		body      []byte
		signature string
		event     string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, signature: r.Header.Get(HeaderSignature), event: r.Header.Get(HeaderEvent)}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.emit(t, Test{Message: "ping", WebhookID: "wh_1"})
	if _, err := newTestWorker(f.store, 4).ProcessPending(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	r := <-got
	if !Verify(testSecret, r.body, r.signature) {
		t.Fatalf("signature %q does not verify", r.signature)
	}
	if Verify("wrong-secret", r.body, r.signature) {
		t.Fatal("signature must not verify under another secret")
	}
	if r.event != EventWebhookTest {
		t.Fatalf("unexpected event header %q", r.event)
	}
	if HeaderSignature != "X-GhostPay-Signature" || HeaderEvent != "X-GhostPay-Event" {
		t.Fatalf("unexpected header names %s, %s", HeaderSignature, HeaderEvent)
	}
	var env struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data Test   `json:"data"`
	}
	if err := json.Unmarshal(r.body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.ID == "" || env.Type != EventWebhookTest || env.Data.Message != "ping" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestConcurrentWorkersDeliverOnce(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		mu.Lock()
		hits[env.ID]++
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	for i := 0; i < 15; i++ {
		f.emit(t, Test{Message: "bulk"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := newTestWorker(f.store, 4).ProcessPending(context.Background()); err != nil {
				t.Errorf("sweep: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 15 {
		t.Fatalf("expected 15 distinct events delivered, got %d", len(hits))
	}
	for id, n := range hits {
		if n != 1 {
			t.Fatalf("event %s delivered %d times", id, n)
		}
	}
}

func TestKickCoalescesAndRunDelivers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	id := f.emit(t, Test{Message: "hi"})[0]
	w := NewWorker(f.store, WorkerConfig{MaxAttempts: 4, SweepInterval: time.Hour, Debounce: 10 * time.Millisecond}, logging.Discard())

	for i := 0; i < 5; i++ {
		w.Kick()
	}
	if len(w.kick) != 1 {
		t.Fatalf("kicks should coalesce into one pending signal, got %d", len(w.kick))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, _ := f.store.Delivery(id)
		if d.Status == DeliveryDelivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("kick did not trigger delivery, status=%s", d.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one POST, got %d", got)
	}
}
