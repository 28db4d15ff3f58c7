package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newFakeRPCServer returns a fake RPC server which answers every request with a successful
// `eth_blockNumber` result, echoing the request id.
//
// When the test is done, the server is closed automatically.
func newFakeRPCServer(t *testing.T) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"0x1"}`))
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}
