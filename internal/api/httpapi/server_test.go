package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheBlackParrot/SpinRequests/internal/app/broadcast"
	"github.com/TheBlackParrot/SpinRequests/internal/app/requests"
	"github.com/TheBlackParrot/SpinRequests/internal/app/resolver"
	"github.com/TheBlackParrot/SpinRequests/internal/app/session"
	"github.com/TheBlackParrot/SpinRequests/internal/domain/queue"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/spinshare"
)

const upstreamDetail = `{"status":200,"data":{
	"id":12345,"title":"Foo","subtitle":"","artist":"Bar","charter":"Quux",
	"fileReference":"foo_123",
	"uploadDate":{"date":"2024-03-01 12:00:00.000000","timezone":null},
	"hasEasyDifficulty":true,"easyDifficulty":4,
	"hasXDDifficulty":true,"XDDifficulty":42}}`

type fixture struct {
	server  *httptest.Server
	manager *requests.Manager
	tracker *session.Tracker
}

// newFixture wires the full front end over a canned upstream: chart 12345
// exists, the search "some song" hits it, everything else misses.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/song/12345":
			_, _ = w.Write([]byte(upstreamDetail))
		case "/searchCharts/some song", "/searchCharts/a%20b":
			_, _ = w.Write([]byte(`{"status":200,"data":{"songs":[{"id":12345,"title":"Foo"}]}}`))
		default:
			if strings.HasPrefix(r.URL.Path, "/searchCharts/") {
				_, _ = w.Write([]byte(`{"status":200,"data":{"songs":[]}}`))
				return
			}
			_, _ = w.Write([]byte(`<title>Not found</title>`))
		}
	}))
	t.Cleanup(upstream.Close)

	client := spinshare.New(spinshare.Config{BaseURL: upstream.URL, Timeout: 5 * time.Second})
	tracker := session.NewTracker(session.Config{PlayedThresholdPercentage: 50}, nil, nil, nil)
	manager := requests.NewManager(requests.Config{CustomsDir: t.TempDir()}, nil, broadcast.New(), nil, tracker)

	api := New("127.0.0.1:0", resolver.New(client), manager, tracker)
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, manager: manager, tracker: tracker}
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (f *fixture) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	code, body := f.get(t, path)
	require.NoError(t, json.Unmarshal([]byte(body), v))
	return code
}

func TestHello(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"Hello!"}`, body)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/frobnicate")
	assert.Equal(t, http.StatusNotImplemented, code)
	assert.JSONEq(t, `{"message":"Not implemented"}`, body)
}

func TestFavicon(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/favicon.ico")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Empty(t, body)
}

func TestAddByID(t *testing.T) {
	f := newFixture(t)
	f.manager.SetOpen(true)

	var view map[string]any
	code := f.getJSON(t, "/add/12345?user=alice&service=twitch", &view)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", view["Requester"])
	assert.Equal(t, "twitch", view["Service"])
	assert.Equal(t, float64(12345), view["SpinShareKey"])
	assert.Equal(t, "foo_123", view["FileReference"])
	assert.Equal(t, true, view["InQueue"])
	assert.Equal(t, false, view["HasPlayed"])
	assert.Equal(t, false, view["AlreadyDownloaded"])

	var queued []map[string]any
	code = f.getJSON(t, "/queue", &queued)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, queued, 1)
	assert.Equal(t, "Foo", queued[0]["Title"])
}

func TestAddTrailingSlash(t *testing.T) {
	f := newFixture(t)
	f.manager.SetOpen(true)

	// Bots and copy-pasted URLs often carry a trailing slash; the token
	// is still the ID, not the search text "12345/".
	var view map[string]any
	code := f.getJSON(t, "/add/12345/?user=alice", &view)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(12345), view["SpinShareKey"])
	assert.Len(t, f.manager.List(""), 1)
}

func TestSearchTextUnescapedOnce(t *testing.T) {
	f := newFixture(t)

	// %2520 decodes to the literal search text "a%20b"; decoding twice
	// would corrupt it into "a b" and miss upstream.
	var view map[string]any
	code := f.getJSON(t, "/query/a%2520b", &view)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Foo", view["Title"])
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		head  string
		token string
	}{
		{name: "plain", path: "/add/12345", head: "add", token: "12345"},
		{name: "trailing slash", path: "/add/12345/", head: "add", token: "12345"},
		{name: "last segment wins", path: "/add/ignored/12345", head: "add", token: "12345"},
		{name: "escaped token", path: "/query/some%20song", head: "query", token: "some song"},
		{name: "double-escaped token", path: "/query/a%2520b", head: "query", token: "a%20b"},
		{name: "no token", path: "/add/", head: "add", token: ""},
		{name: "uppercase route", path: "/QUEUE", head: "queue", token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, token := splitPath(tt.path)
			assert.Equal(t, tt.head, head)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestAddBySearch(t *testing.T) {
	f := newFixture(t)
	f.manager.SetOpen(true)

	var view map[string]any
	code := f.getJSON(t, "/add/some%20song?user=bob", &view)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(12345), view["SpinShareKey"])
	assert.Len(t, f.manager.List(""), 1)
}

func TestAddQueueClosed(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/add/12345?user=alice")
	assert.Equal(t, http.StatusForbidden, code)
	assert.JSONEq(t, `{"message":"The queue is closed"}`, body)
	assert.Empty(t, f.manager.List(""))
}

func TestAddQueueClosedForce(t *testing.T) {
	f := newFixture(t)

	var view map[string]any
	code := f.getJSON(t, "/add/12345?user=alice&force=true", &view)

	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, f.manager.List(""), 1)
}

func TestAddNoSearchResults(t *testing.T) {
	f := newFixture(t)
	f.manager.SetOpen(true)

	code, body := f.get(t, "/add/unknown%20search%20text")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"message":"No results for search"}`, body)
}

func TestAddUnknownID(t *testing.T) {
	f := newFixture(t)
	f.manager.SetOpen(true)

	code, body := f.get(t, "/add/99999")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"message":"This map does not exist"}`, body)
}

func TestAddEmptyToken(t *testing.T) {
	f := newFixture(t)
	f.manager.SetOpen(true)

	code, body := f.get(t, "/add/")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `{"message":"Invalid request"}`, body)
}

func TestQueryDoesNotMutateQueue(t *testing.T) {
	f := newFixture(t)

	// Query works with the queue closed and never enqueues.
	var view map[string]any
	code := f.getJSON(t, "/query/12345?user=alice", &view)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Foo", view["Title"])
	assert.Equal(t, false, view["InQueue"])
	assert.Empty(t, f.manager.List(""))
}

func TestQueueFilterByUser(t *testing.T) {
	f := newFixture(t)
	f.manager.SetOpen(true)

	_, _ = f.get(t, "/add/12345?user=alice")
	_, _ = f.get(t, "/add/12345?user=bob")

	var all []map[string]any
	f.getJSON(t, "/queue", &all)
	assert.Len(t, all, 2)

	var mine []map[string]any
	f.getJSON(t, "/queue?user=alice", &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, "alice", mine[0]["Requester"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t)

	refA, refB := "a_1", "b_1"
	f.tracker.RecordPlay(&queue.Entry{Title: "First", FileReference: &refA})
	f.tracker.RecordPlay(&queue.Entry{Title: "Second", FileReference: &refB})
	f.tracker.MarkThresholdCrossed(refA)

	var history []map[string]any
	code := f.getJSON(t, "/history", &history)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, history, 2)
	assert.Equal(t, "Second", history[0]["Title"])
	assert.Equal(t, "First", history[1]["Title"])
	assert.Equal(t, true, history[1]["HasPlayed"])
	assert.Equal(t, false, history[0]["InQueue"])

	var limited []map[string]any
	f.getJSON(t, "/history?limit=1", &limited)
	require.Len(t, limited, 1)
	assert.Equal(t, "Second", limited[0]["Title"])

	var played []map[string]any
	f.getJSON(t, "/history?onlyPlayed=true", &played)
	require.Len(t, played, 1)
	assert.Equal(t, "First", played[0]["Title"])
}

func TestUpstreamTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	client := spinshare.New(spinshare.Config{BaseURL: slow.URL, Timeout: 20 * time.Millisecond})
	tracker := session.NewTracker(session.Config{}, nil, nil, nil)
	manager := requests.NewManager(requests.Config{CustomsDir: t.TempDir()}, nil, broadcast.New(), nil, tracker)
	manager.SetOpen(true)

	ts := httptest.NewServer(New("127.0.0.1:0", resolver.New(client), manager, tracker).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/add/12345")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.JSONEq(t, `{"message":"SpinShare API request timed out"}`, string(body))
}

func TestResponseHeaders(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
