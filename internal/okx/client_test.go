package okx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/config"

	"go.uber.org/zap"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

var testCreds = config.Credentials{APIKey: "key", APISecret: "secret", Passphrase: "pass"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(config.RESTConfig{BaseURL: server.URL, Timeout: 2 * time.Second}, testCreds, zap.NewNop())
	client.SetClock(fixedClock{t: time.Date(2025, 5, 29, 12, 0, 0, 123e6, time.UTC)})
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestServerTime(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/public/time" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("OK-ACCESS-SIGN") != "" {
			t.Errorf("public endpoint must not be signed")
		}
		writeJSON(w, 200, `{"code":"0","msg":"","data":[{"ts":"1748520000500"}]}`)
	})
	ts, err := client.ServerTime(context.Background())
	if err != nil {
		t.Fatalf("server time: %v", err)
	}
	if ts.UnixMilli() != 1748520000500 {
		t.Fatalf("unexpected server time %d", ts.UnixMilli())
	}
}

func TestInstrumentParsesRules(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("instId"); got != "ALT-USDT" {
			t.Errorf("expected instId ALT-USDT, got %q", got)
		}
		writeJSON(w, 200, `{"code":"0","data":[{"instId":"ALT-USDT","baseCcy":"ALT","quoteCcy":"USDT","tickSz":"0.0001","lotSz":"0.01","minSz":"1","state":"live"}]}`)
	})
	rules, err := client.Instrument(context.Background(), "ALT-USDT")
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	if rules.TickSize.String() != "0.0001" || rules.LotSize.String() != "0.01" || rules.MinSize.String() != "1" {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if rules.BaseCcy != "ALT" {
		t.Fatalf("expected base ALT, got %q", rules.BaseCcy)
	}
}

func TestInstrumentNotListed(t *testing.T) {
	cases := map[string]string{
		"empty data": `{"code":"0","data":[]}`,
		"code 51001": `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, 200, body)
			})
			_, err := client.Instrument(context.Background(), "ALT-USDT")
			if !errors.Is(err, apperr.ErrPairNotFound) {
				t.Fatalf("expected ErrPairNotFound, got %v", err)
			}
		})
	}
}

func TestTickerBeforeTrading(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"code":"0","data":[{"instId":"ALT-USDT","last":"","ts":"1748520000000"}]}`)
	})
	snap, err := client.Ticker(context.Background(), "ALT-USDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if snap.Trading() {
		t.Fatalf("expected empty last to mean not trading, got %s", snap.Last)
	}
}

func TestTickerParsesLast(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"code":"0","data":[{"instId":"ALT-USDT","last":"100.005","ts":"1748520000000"}]}`)
	})
	snap, err := client.Ticker(context.Background(), "ALT-USDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if !snap.Trading() || snap.Last.String() != "100.005" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.ObservedAt.UnixMilli() != 1748520000000 {
		t.Fatalf("expected exchange timestamp, got %v", snap.ObservedAt)
	}
}

func TestSignedRequestHeaders(t *testing.T) {
	var gotBody string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		if ts != "2025-05-29T12:00:00.123Z" {
			t.Errorf("unexpected timestamp %q", ts)
		}
		want := Sign("secret", ts, r.Method, r.URL.RequestURI(), gotBody)
		if got := r.Header.Get("OK-ACCESS-SIGN"); got != want {
			t.Errorf("signature mismatch: got %q want %q", got, want)
		}
		if r.Header.Get("OK-ACCESS-KEY") != "key" || r.Header.Get("OK-ACCESS-PASSPHRASE") != "pass" {
			t.Errorf("missing credential headers")
		}
		writeJSON(w, 200, `{"code":"0","data":[{"ordId":"123","clOrdId":"abc","sCode":"0","sMsg":""}]}`)
	})
	ack, err := client.PlaceOrder(context.Background(), OrderRequest{
		InstID: "ALT-USDT", Side: "sell", OrdType: "limit", Sz: "10", Px: "99.5", ClOrdID: "abc",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if ack.OrdID != "123" {
		t.Fatalf("expected order id 123, got %q", ack.OrdID)
	}
	var sent map[string]string
	if err := json.Unmarshal([]byte(gotBody), &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent["tdMode"] != "cash" || sent["px"] != "99.5" || sent["side"] != "sell" {
		t.Fatalf("unexpected order body %v", sent)
	}
}

func TestSignedGetIncludesQueryInSignature(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		want := Sign("secret", ts, http.MethodGet, "/api/v5/account/balance?ccy=ALT", "")
		if got := r.Header.Get("OK-ACCESS-SIGN"); got != want {
			t.Errorf("signature mismatch for GET with query")
		}
		writeJSON(w, 200, `{"code":"0","data":[{"details":[{"ccy":"ALT","availBal":"250.5"}]}]}`)
	})
	bal, err := client.AvailableBalance(context.Background(), "ALT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.String() != "250.5" {
		t.Fatalf("expected 250.5, got %s", bal)
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"code":"1","msg":"All operations failed","data":[{"ordId":"","clOrdId":"abc","sCode":"51008","sMsg":"Insufficient balance"}]}`)
	})
	_, err := client.PlaceOrder(context.Background(), OrderRequest{InstID: "ALT-USDT", Side: "sell", OrdType: "limit", Sz: "1", Px: "1"})
	if !errors.Is(err, apperr.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "51008" {
		t.Fatalf("expected APIError with code 51008, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad signature", 401, `{"code":"50113","msg":"Invalid Sign"}`, apperr.ErrAuth},
		{"bare 401", 401, `unauthorized`, apperr.ErrAuth},
		{"rate limit", 429, `{"code":"50011","msg":"Too Many Requests"}`, apperr.ErrTransient},
		{"gateway", 502, `<html>bad gateway</html>`, apperr.ErrTransient},
		{"busy", 200, `{"code":"50013","msg":"System busy","data":[]}`, apperr.ErrTransient},
		{"timestamp expired", 400, `{"code":"50102","msg":"Timestamp request expired"}`, apperr.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
			_, err := client.AvailableBalance(context.Background(), "ALT")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

type syncingClock struct {
	fixedClock
	syncs int
}

func (c *syncingClock) Sync(context.Context) (time.Duration, error) {
	c.syncs++
	return 0, nil
}

func TestExpiredTimestampResyncsClock(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(w, 400, `{"code":"50102","msg":"Timestamp request expired"}`)
			return
		}
		writeJSON(w, 200, `{"code":"0","msg":"","data":[{"details":[{"ccy":"ALT","availBal":"12.5"}]}]}`)
	})
	clock := &syncingClock{fixedClock: fixedClock{t: time.Date(2025, 5, 29, 12, 0, 0, 0, time.UTC)}}
	client.SetClock(clock)

	_, err := client.AvailableBalance(context.Background(), "ALT")
	if !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if clock.syncs != 1 {
		t.Fatalf("expected one resync before the retry, got %d", clock.syncs)
	}
	if _, err := client.AvailableBalance(context.Background(), "ALT"); err != nil {
		t.Fatalf("retry after resync: %v", err)
	}
	if clock.syncs != 1 {
		t.Fatalf("expected no resync on success, got %d", clock.syncs)
	}
}

func TestOtherErrorsDoNotResyncClock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"code":"50013","msg":"System busy","data":[]}`)
	})
	clock := &syncingClock{}
	client.SetClock(clock)

	if _, err := client.AvailableBalance(context.Background(), "ALT"); !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if clock.syncs != 0 {
		t.Fatalf("expected no resync, got %d", clock.syncs)
	}
}

func TestCancelAlreadyClosed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"code":"1","msg":"","data":[{"ordId":"123","sCode":"51402","sMsg":"Order has been completed"}]}`)
	})
	err := client.CancelOrder(context.Background(), "ALT-USDT", "123")
	if !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed, got %v", err)
	}
}

func TestOrderLookupByClientID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("clOrdId") != "abc" || r.URL.Query().Get("ordId") != "" {
			t.Errorf("expected lookup by clOrdId, got %s", r.URL.RawQuery)
		}
		writeJSON(w, 200, `{"code":"0","data":[{"ordId":"123","clOrdId":"abc","state":"partially_filled","accFillSz":"4","avgPx":"99.5","px":"99.5","sz":"10"}]}`)
	})
	detail, err := client.Order(context.Background(), "ALT-USDT", "", "abc")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if detail.State != StatePartiallyFilled || detail.FilledSz.String() != "4" || detail.OrdID != "123" {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestOrderLookupNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"code":"51603","msg":"Order does not exist","data":[]}`)
	})
	_, err := client.Order(context.Background(), "ALT-USDT", "", "abc")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestSimulatedHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-simulated-trading") != "1" {
			t.Errorf("expected simulated trading header")
		}
		writeJSON(w, 200, `{"code":"0","data":[{"ts":"1"}]}`)
	}))
	defer server.Close()
	client := New(config.RESTConfig{BaseURL: server.URL, Timeout: time.Second, Simulated: true}, testCreds, nil)
	if _, err := client.ServerTime(context.Background()); err != nil {
		t.Fatalf("server time: %v", err)
	}
}
