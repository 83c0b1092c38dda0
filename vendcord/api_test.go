package vendcord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIToken = "test_api_token"

func newTestAPI(t testing.TB) (*API, *httptest.Server, *VendCord) {
	t.Helper()
	bot := newTestBot(t)
	bot.config.API.Enabled = true
	bot.config.API.Token = testAPIToken
	// gin-contrib/cors panics when no origins are allowed at all
	bot.config.API.CORS.AllowOrigins = []string{"*"}

	api, err := newAPI(bot, bot.config.API)
	require.NoError(t, err)

	server := httptest.NewServer(api.httpServer.Handler)
	t.Cleanup(server.Close)
	return api, server, bot
}

func apiGET(
	t testing.TB,
	server *httptest.Server,
	path string,
	token string,
) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

func TestAPIHealth(t *testing.T) {
	t.Parallel()
	_, server, _ := newTestAPI(t)

	// health doesn't require the token
	resp, body := apiGET(t, server, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, true, health["database"])
	assert.Equal(t, false, health["discord_connected"])
}

func TestAPIRequiresToken(t *testing.T) {
	t.Parallel()
	_, server, _ := newTestAPI(t)

	resp, _ := apiGET(t, server, "/api/stock", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = apiGET(t, server, "/api/stock", "wrong_token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = apiGET(t, server, "/api/stock", testAPIToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIStock(t *testing.T) {
	t.Parallel()
	_, server, bot := newTestAPI(t)
	ctx := context.Background()

	_, err := bot.store.AddStock(ctx, "nitro", "CODE-1", "admin_1")
	require.NoError(t, err)
	_, err = bot.store.AddStock(ctx, "nitro", "CODE-2", "admin_1")
	require.NoError(t, err)

	resp, body := apiGET(t, server, "/api/stock", testAPIToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Stock []StockCount `json:"stock"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Stock, 1)
	assert.Equal(t, "nitro", payload.Stock[0].Product)
	assert.Equal(t, int64(2), payload.Stock[0].Count)

	// payloads must never appear in API responses
	assert.NotContains(t, string(body), "CODE-1")
}

func TestAPIRecentOrders(t *testing.T) {
	t.Parallel()
	_, server, bot := newTestAPI(t)
	ctx := context.Background()

	u := newDiscordUser(t)
	for n := 0; n < 5; n++ {
		_, err := bot.store.SubmitOrder(
			ctx, NewOrder(u, fmt.Sprintf("product_%d", n)),
		)
		require.NoError(t, err)
	}

	resp, body := apiGET(t, server, "/api/orders?limit=3", testAPIToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Orders []Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Len(t, payload.Orders, 3)

	resp, _ = apiGET(t, server, "/api/orders?limit=0", testAPIToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = apiGET(t, server, "/api/orders?limit=9999", testAPIToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
