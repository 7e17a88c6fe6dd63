package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/mock"
	"github.com/itohio/goweigh/pkg/scale"
	"github.com/itohio/goweigh/pkg/stabilize"
	"github.com/itohio/goweigh/pkg/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *scale.Scale, *mock.Port) {
	t.Helper()

	cfg := stabilize.DefaultConfig()
	cfg.SameCount = 2

	port := mock.NewPort()
	s := scale.New(scale.WithOpener(port.Opener()), scale.WithStabilization(cfg))

	lc := link.DefaultConfig("COM3")
	lc.ReadTimeout = 5 * time.Millisecond
	require.NoError(t, s.Open(lc))
	t.Cleanup(func() { _ = s.Close() })

	return New(s, nil), s, port
}

func do(t *testing.T, api *API, method, path, body string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := api.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestStatus(t *testing.T) {
	api, s, _ := newTestAPI(t)

	code, body := do(t, api, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Open)
	assert.Equal(t, "COM3 (9600,8,One,None)", st.Port)
	assert.True(t, st.AwaitingNewObject)

	require.NoError(t, s.Close())
	code, body = do(t, api, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.False(t, st.Open)
}

func TestWeight(t *testing.T) {
	api, _, port := newTestAPI(t)

	code, _ := do(t, api, http.MethodGet, "/weight", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, api, http.MethodGet, "/weight/live", "")
	assert.Equal(t, http.StatusNotFound, code)

	port.FeedTelegram(telegram.FromFloat(42.5))
	port.FeedTelegram(telegram.FromFloat(42.5))

	var w WeightResponse
	require.Eventually(t, func() bool {
		code, body := do(t, api, http.MethodGet, "/weight", "")
		return code == http.StatusOK && json.Unmarshal(body, &w) == nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 42.5, w.Weight)
	assert.Equal(t, "42.5", w.Display)
	assert.Equal(t, uint64(2), w.Sequence)
	assert.NotEmpty(t, w.ID)

	code, body := do(t, api, http.MethodGet, "/weight/live", "")
	require.Equal(t, http.StatusOK, code)

	var live WeightResponse
	require.NoError(t, json.Unmarshal(body, &live))
	assert.Equal(t, 42.5, live.Weight)
	assert.Equal(t, uint64(2), live.Sequence)
	assert.Empty(t, live.ID, "live samples carry no event id")
}

func TestCommand(t *testing.T) {
	api, _, port := newTestAPI(t)
	port.Respond([]byte{0x54, 0x0d}, []byte{0x4f, 0x4b})

	code, body := do(t, api, http.MethodPost, "/command", `{"request":"54 0D","response_length":2,"timeout_ms":200}`)
	require.Equal(t, http.StatusOK, code, string(body))

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "4F4B", resp.Response)
	assert.True(t, resp.Complete)
}

func TestCommand_Timeout(t *testing.T) {
	api, _, _ := newTestAPI(t)

	code, body := do(t, api, http.MethodPost, "/command", `{"request":"50","response_length":4,"timeout_ms":20}`)
	require.Equal(t, http.StatusOK, code, string(body))

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Empty(t, resp.Response)
	assert.False(t, resp.Complete)
}

func TestCommand_BadRequest(t *testing.T) {
	api, _, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"request":`},
		{"invalid hex", `{"request":"zz","response_length":1}`},
		{"empty request", `{"request":"","response_length":1}`},
		{"negative length", `{"request":"01","response_length":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := do(t, api, http.MethodPost, "/command", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestCommand_Closed(t *testing.T) {
	api, s, _ := newTestAPI(t)
	require.NoError(t, s.Close())

	code, _ := do(t, api, http.MethodPost, "/command", `{"request":"01","response_length":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHex(t *testing.T) {
	b, err := HexToBytes("02 2b 30")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, '+', '0'}, b)

	_, err = HexToBytes("0")
	assert.Error(t, err)

	assert.Equal(t, "022B30", BytesToHex(b))
	assert.Empty(t, BytesToHex(nil))
}
