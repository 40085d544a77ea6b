package exchangerate

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketwatch/internal/httpx"
	"marketwatch/internal/source"
)

func serve(t *testing.T, check func(r *http.Request), status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_MidRate(t *testing.T) {
	srv := serve(t, func(r *http.Request) {
		require.Equal(t, "/latest", r.URL.Path)
		require.Equal(t, "USD", r.URL.Query().Get("base"))
		require.Equal(t, "CNY", r.URL.Query().Get("symbols"))
		require.Equal(t, "k", r.URL.Query().Get("access_key"))
	}, http.StatusOK, `{"success":true,"timestamp":1735790645,"base":"USD","rates":{"CNY":7.1234}}`)

	p := New(Config{URL: srv.URL, APIKey: "k"}, httpx.New(2*time.Second))
	raw, err := p.Fetch(testContext(t), "USD/CNY")
	require.NoError(t, err)
	require.Equal(t, "7.1234", raw.Value.String())
	require.Equal(t, time.Unix(1735790645, 0).UTC(), raw.AsOf)
}

func TestFetch_LegacyShapeWithoutSuccessFlag(t *testing.T) {
	srv := serve(t, nil, http.StatusOK, `{"base":"USD","rates":{"CNY":7.12}}`)
	p := New(Config{URL: srv.URL}, httpx.New(2*time.Second))
	raw, err := p.Fetch(testContext(t), "USDCNY")
	require.NoError(t, err)
	require.Equal(t, "7.12", raw.Value.String())
}

func TestFetch_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		key    string
		want   error
	}{
		{"quota", http.StatusOK, `{"success":false,"error":{"code":104,"type":"usage_limit_reached","info":"quota"}}`, "USD/CNY", source.ErrRateLimited},
		{"missing key", http.StatusOK, `{"success":false,"error":{"code":101,"type":"missing_access_key"}}`, "USD/CNY", source.ErrParseFailed},
		{"missing rate", http.StatusOK, `{"success":true,"rates":{"EUR":0.9}}`, "USD/CNY", source.ErrParseFailed},
		{"zero rate", http.StatusOK, `{"rates":{"CNY":0}}`, "USD/CNY", source.ErrParseFailed},
		{"garbage", http.StatusOK, `not json`, "USD/CNY", source.ErrParseFailed},
		{"bad pair", http.StatusOK, `{}`, "dollars", source.ErrParseFailed},
		{"throttled", http.StatusTooManyRequests, ``, "USD/CNY", source.ErrRateLimited},
		{"down", http.StatusServiceUnavailable, ``, "USD/CNY", source.ErrUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, nil, tc.status, tc.body)
			p := New(Config{URL: srv.URL}, httpx.New(2*time.Second))
			_, err := p.Fetch(testContext(t), tc.key)
			require.ErrorIs(t, err, tc.want)
		})
	}
}
