package pyth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

const btcFeed = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func TestLatestPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/updates/price/latest", r.URL.Path)
		assert.Equal(t, btcFeed, r.URL.Query().Get("ids[]"))
		_, _ = w.Write([]byte(`{"parsed":[{"id":"` + btcFeed + `","price":{"price":"6012345000000","conf":"1000","expo":-8,"publish_time":1700000000}}]}`))
	}))
	defer srv.Close()

	price, ts, err := NewClient(srv.URL, time.Second).LatestPrice(context.Background(), "0x"+btcFeed)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("60123.45").Equal(price), price.String())
	assert.Equal(t, int64(1700000000), ts.Unix())
}

func TestLatestPriceSendsBareFeedID(t *testing.T) {
	for _, in := range []string{btcFeed, "0x" + btcFeed, "0X" + strings.ToUpper(btcFeed)} {
		t.Run(in[:4], func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, []string{btcFeed}, r.URL.Query()["ids[]"])
				_, _ = w.Write([]byte(`{"parsed":[{"id":"0x` + btcFeed + `","price":{"price":"100","conf":"1","expo":0,"publish_time":1}}]}`))
			}))
			defer srv.Close()

			price, _, err := NewClient(srv.URL, time.Second).LatestPrice(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, "100", price.String())
		})
	}
}

func TestLatestPriceMissingFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"parsed":[]}`))
	}))
	defer srv.Close()

	_, _, err := NewClient(srv.URL, time.Second).LatestPrice(context.Background(), btcFeed)
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestLatestPriceRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := NewClient(srv.URL, time.Second).LatestPrice(context.Background(), btcFeed)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
