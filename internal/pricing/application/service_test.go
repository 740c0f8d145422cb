package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	pricing "market-optimizer/internal/pricing/domain"
)

type stubSource struct {
	mu      sync.Mutex
	records []pricing.PriceRecord
	err     error
	calls   int
}

func (s *stubSource) FetchPrices(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.records, s.err
}

type stubStore struct {
	records  []pricing.PriceRecord
	complete bool
	loadErr  error
	saved    []pricing.PriceRecord
}

func (s *stubStore) LoadRange(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, bool, error) {
	return s.records, s.complete, s.loadErr
}

func (s *stubStore) SaveRecords(ctx context.Context, records []pricing.PriceRecord) error {
	s.saved = append(s.saved, records...)
	return nil
}

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, opts ...ServiceOption) *MarketDataService {
	t.Helper()
	opts = append(opts, WithLogger(log.New(io.Discard, "", 0)))
	svc, err := NewMarketDataService(NewSyntheticSource(rand.New(rand.NewSource(1))), DefaultSettings(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func liveRecords() []pricing.PriceRecord {
	return []pricing.PriceRecord{
		record("01.01.2024", 2, 0.05),
		record("01.01.2024", 19, 0.25),
	}
}

func TestGetMarketData_Live(t *testing.T) {
	live := &stubSource{records: liveRecords()}
	store := &stubStore{}
	svc := newTestService(t, WithLiveSource(live), WithStore(store))

	data, err := svc.GetMarketData(context.Background(), jan1, jan2, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data.IsTestData || data.Source != SourceLive || len(data.Records) != 2 {
		t.Fatalf("unexpected result %+v", data)
	}
	if len(store.saved) != 2 {
		t.Fatalf("expected live rows to be stored, got %d", len(store.saved))
	}
}

func TestGetMarketData_StoreHit(t *testing.T) {
	live := &stubSource{records: liveRecords()}
	store := &stubStore{records: liveRecords(), complete: true}
	svc := newTestService(t, WithLiveSource(live), WithStore(store))

	data, err := svc.GetMarketData(context.Background(), jan1, jan1, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data.Source != SourceStore {
		t.Fatalf("expected store source, got %s", data.Source)
	}
	if live.calls != 0 {
		t.Fatalf("live source must not be called on a complete store hit")
	}
}

func TestGetMarketData_PartialStoreFallsThrough(t *testing.T) {
	live := &stubSource{records: liveRecords()}
	store := &stubStore{records: liveRecords()[:1], complete: false}
	svc := newTestService(t, WithLiveSource(live), WithStore(store))

	data, err := svc.GetMarketData(context.Background(), jan1, jan2, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data.Source != SourceLive || live.calls != 1 {
		t.Fatalf("expected live fetch, got source=%s calls=%d", data.Source, live.calls)
	}
}

func TestGetMarketData_Fallbacks(t *testing.T) {
	cases := []struct {
		name   string
		source *stubSource
		reason string
	}{
		{"token", &stubSource{err: fmt.Errorf("token: %w", pricing.ErrSourceToken)}, ReasonAuthToken},
		{"not found", &stubSource{err: &pricing.SourceStatusError{StatusCode: 404}}, ReasonNotFound},
		{"forbidden", &stubSource{err: &pricing.SourceStatusError{StatusCode: 403}}, ReasonAuth},
		{"server", &stubSource{err: &pricing.SourceStatusError{StatusCode: 500}}, ReasonAPI},
		{"empty", &stubSource{}, ReasonEmptyResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t, WithLiveSource(tc.source))
			data, err := svc.GetMarketData(context.Background(), jan1, jan2, nil)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !data.IsTestData || data.Source != SourceSynthetic {
				t.Fatalf("expected synthetic fallback, got %+v", data)
			}
			if data.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, data.Reason)
			}
			if data.Message != FallbackMessage(tc.reason) {
				t.Fatalf("unexpected message %q", data.Message)
			}
			if len(data.Records) != 48 {
				t.Fatalf("expected 48 synthetic rows, got %d", len(data.Records))
			}
		})
	}
}

func TestGetMarketData_NoLiveSource(t *testing.T) {
	svc := newTestService(t)
	data, err := svc.GetMarketData(context.Background(), jan1, jan1, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !data.IsTestData || data.Reason != ReasonAPI {
		t.Fatalf("unexpected result %+v", data)
	}
}

func TestGetMarketData_UserRequest(t *testing.T) {
	live := &stubSource{records: liveRecords()}
	svc := newTestService(t, WithLiveSource(live))
	useTest := true
	data, err := svc.GetMarketData(context.Background(), jan1, jan1, &useTest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data.Reason != ReasonUserRequest || live.calls != 0 {
		t.Fatalf("expected user-requested synthetic data, got reason=%s calls=%d", data.Reason, live.calls)
	}
}

func TestGetMarketData_InvalidRange(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.GetMarketData(context.Background(), jan2, jan1, nil); !errors.Is(err, pricing.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestOptimize_LiveData(t *testing.T) {
	svc := newTestService(t, WithLiveSource(&stubSource{records: liveRecords()}))
	res, err := svc.Optimize(context.Background(), jan1, jan1, 0, nil)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.IsTestData || len(res.Cycles) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if *res.Cycles[0].ChargeHour != 2 || *res.Cycles[0].DischargeHour != 19 {
		t.Fatalf("unexpected cycle %+v", res.Cycles[0])
	}
}

func TestPrefetch(t *testing.T) {
	svc := newTestService(t, WithLiveSource(&stubSource{records: liveRecords()}))
	if _, err := svc.Prefetch(context.Background(), jan1, jan1); err == nil {
		t.Fatalf("expected error without a store")
	}

	store := &stubStore{}
	svc = newTestService(t, WithLiveSource(&stubSource{records: liveRecords()}), WithStore(store))
	n, err := svc.Prefetch(context.Background(), jan1, jan1)
	if err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if n != 2 || len(store.saved) != 2 {
		t.Fatalf("expected 2 stored rows, got n=%d saved=%d", n, len(store.saved))
	}

	failing := newTestService(t, WithLiveSource(&stubSource{err: &pricing.SourceStatusError{StatusCode: 500}}), WithStore(&stubStore{}))
	if _, err := failing.Prefetch(context.Background(), jan1, jan1); err == nil {
		t.Fatalf("prefetch must surface upstream errors")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifySourceError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, ReasonTimeout},
		{fmt.Errorf("get: %w", timeoutErr{}), ReasonTimeout},
		{&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, ReasonConnect},
		{&pricing.SourceStatusError{StatusCode: 401}, ReasonAuth},
		{errors.New("boom"), ReasonAPI},
	}
	for _, tc := range cases {
		if got := ClassifySourceError(tc.err); got != tc.want {
			t.Fatalf("ClassifySourceError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if FallbackMessage("unknown") != FallbackMessage(ReasonAPI) {
		t.Fatalf("unknown reasons must use the generic message")
	}
}

func TestRanges(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	from, to := svc.MarketRange(now, nil, nil)
	if !from.Equal(time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected market range %s - %s", from, to)
	}
	from, to = svc.OptimizeRange(now, nil, nil)
	if !from.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected optimize range %s - %s", from, to)
	}
	start := jan1
	_, to = svc.OptimizeRange(now, &start, nil)
	if !to.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start+30d, got %s", to)
	}
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu    sync.Mutex
	ctxs  []context.Context
	calls int
}

func (s *blockingSource) FetchPrices(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, error) {
	s.mu.Lock()
	s.ctxs = append(s.ctxs, ctx)
	s.calls++
	s.mu.Unlock()
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return liveRecords(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestGetMarketData_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	live := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, WithLiveSource(live))

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, _ = svc.GetMarketData(ctxA, jan1, jan2, nil)
	}()
	<-live.started
	cancelA()
	<-doneA

	live.mu.Lock()
	shared := live.ctxs[0]
	live.mu.Unlock()
	if shared.Err() != nil {
		t.Fatalf("shared fetch was cancelled with the first caller: %v", shared.Err())
	}

	type outcome struct {
		data MarketData
		err  error
	}
	doneB := make(chan outcome, 1)
	go func() {
		data, err := svc.GetMarketData(context.Background(), jan1, jan2, nil)
		doneB <- outcome{data, err}
	}()
	close(live.release)

	b := <-doneB
	if b.err != nil {
		t.Fatalf("second caller: %v", b.err)
	}
	if b.data.IsTestData || b.data.Source != SourceLive || len(b.data.Records) != 2 {
		t.Fatalf("second caller should get live data, got %+v", b.data)
	}
}

func TestGetMarketData_DropsNonFiniteLiveRows(t *testing.T) {
	nan := record("01.01.2024", 5, 0)
	nan.PriceEUR, nan.PriceCtKWh = math.NaN(), math.NaN()
	live := &stubSource{records: append(liveRecords(), nan)}
	svc := newTestService(t, WithLiveSource(live))

	data, err := svc.GetMarketData(context.Background(), jan1, jan2, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data.Source != SourceLive || len(data.Records) != 2 {
		t.Fatalf("expected 2 finite live rows, got %+v", data)
	}
}
