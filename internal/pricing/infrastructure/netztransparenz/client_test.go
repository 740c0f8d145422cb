package netztransparenz

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	pricing "market-optimizer/internal/pricing/domain"
)

const priceBody = "Datum;von;Zeitzone von;bis;Zeitzone bis;Spotmarktpreis in ct/kWh\n" +
	"01.01.2024;00:00;UTC;01:00;UTC;7,5\n" +
	"01.01.2024;01:00;UTC;02:00;UTC;6,25\n"

type fakeAPI struct {
	server      *httptest.Server
	tokenCalls  atomic.Int32
	dataStatus  int
	lastPath    string
	lastAuth    string
	tokenStatus int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{dataStatus: http.StatusOK, tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		api.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("client_id") != "id" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if api.tokenStatus != http.StatusOK {
			http.Error(w, "denied", api.tokenStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 60})
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		api.lastPath = r.URL.Path
		api.lastAuth = r.Header.Get("Authorization")
		if api.dataStatus != http.StatusOK {
			http.Error(w, "nope", api.dataStatus)
			return
		}
		_, _ = io.WriteString(w, priceBody)
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append(opts, WithLogger(log.New(io.Discard, "", 0)))
	c, err := NewClient(Config{
		BaseURL:      a.server.URL + "/data/",
		TokenURL:     a.server.URL + "/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestFetchPrices(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	records, err := c.FetchPrices(context.Background(), start, end)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 || records[1].Hour != 1 || records[1].PriceCtKWh != 6.25 {
		t.Fatalf("unexpected records %+v", records)
	}
	if api.lastPath != "/data/2024-01-01T00:00:00/2024-01-02T23:59:59" {
		t.Fatalf("unexpected path %s", api.lastPath)
	}
	if api.lastAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", api.lastAuth)
	}

	if _, err := c.FetchPrices(context.Background(), start, end); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := api.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected cached token, got %d token requests", got)
	}
}

func TestToken_Expiry(t *testing.T) {
	api := newFakeAPI(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := api.client(t, WithClock(func() time.Time { return now }))

	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	now = now.Add(59 * time.Second)
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if api.tokenCalls.Load() != 1 {
		t.Fatalf("token must be reused before expiry")
	}
	now = now.Add(2 * time.Second)
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if api.tokenCalls.Load() != 2 {
		t.Fatalf("token must be refreshed after expiry")
	}
}

func TestFetchPrices_Errors(t *testing.T) {
	api := newFakeAPI(t)
	api.tokenStatus = http.StatusUnauthorized
	c := api.client(t)
	if _, err := c.FetchPrices(context.Background(), time.Now(), time.Now()); !errors.Is(err, pricing.ErrSourceToken) {
		t.Fatalf("expected ErrSourceToken, got %v", err)
	}

	api.tokenStatus = http.StatusOK
	api.dataStatus = http.StatusNotFound
	_, err := c.FetchPrices(context.Background(), time.Now(), time.Now())
	var statusErr *pricing.SourceStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{ClientID: "id"}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
