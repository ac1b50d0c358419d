package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSDKClient(serverURL string) *SDKClient {
	return NewSDKClient(&config.ProtocolConfig{
		SDKEndpoint: serverURL,
		SDKTimeout:  2 * time.Second,
	})
}

func envelopeHandler(t *testing.T, data interface{}) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := json.Marshal(data)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":` + string(payload) + `}`))
	}
}

func TestSDKClient(t *testing.T) {
	ctx := context.Background()

	t.Run("GetObligationDecodesEnvelope", func(t *testing.T) {
		server := httptest.NewServer(envelopeHandler(t, Obligation{
			ObligationID: "0xob1",
			Owner:        "0xabc",
		}))
		defer server.Close()

		client := newTestSDKClient(server.URL)
		obligation, err := client.GetObligation(ctx, "0xob1")
		require.NoError(t, err)
		assert.Equal(t, "0xob1", obligation.ObligationID)
		assert.Equal(t, "0xabc", obligation.Owner)
	})

	t.Run("EnvelopeFailureSurfacesSidecarError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"error":"obligation not found"}`))
		}))
		defer server.Close()

		client := newTestSDKClient(server.URL)
		_, err := client.GetObligation(ctx, "0xmissing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "obligation not found")
	})

	t.Run("NonOKStatusIsAnError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := newTestSDKClient(server.URL)
		_, err := client.GetMarketReserves(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("CallDurationIsRecorded", func(t *testing.T) {
		server := httptest.NewServer(envelopeHandler(t, map[string]string{
			"address": "0xwallet",
		}))
		defer server.Close()

		before := testutil.CollectAndCount(metrics.SDKCallDuration)

		client := newTestSDKClient(server.URL)
		address, err := client.GetAddress(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0xwallet", address)

		// The wallet-address label appears in the histogram after the call.
		after := testutil.CollectAndCount(metrics.SDKCallDuration)
		assert.Greater(t, after, before)
	})

	t.Run("PingHitsHealthEndpoint", func(t *testing.T) {
		var hitPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hitPath = r.URL.Path
			_, _ = w.Write([]byte(`{"success":true}`))
		}))
		defer server.Close()

		client := newTestSDKClient(server.URL)
		require.NoError(t, client.Ping(ctx))
		assert.Equal(t, "/health", hitPath)
	})
}
