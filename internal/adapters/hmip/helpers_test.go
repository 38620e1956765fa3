package hmip

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

const testAccessPointID = "3014F711A00001D3C99C97A8"

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// recordedRequest is one call seen by fakeCloud
type recordedRequest struct {
	Path   string
	Header http.Header
	Body   map[string]interface{}
}

type cannedResponse struct {
	status int
	body   string
}

// fakeCloud serves the REST gateway under /hmip/ with canned responses per path
type fakeCloud struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string][]cannedResponse
	requests  []recordedRequest
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()

	fc := &fakeCloud{responses: make(map[string][]cannedResponse)}
	fc.server = httptest.NewServer(http.HandlerFunc(fc.handle))
	t.Cleanup(fc.server.Close)
	return fc
}

// respond queues a response for path. The last queued response repeats.
func (fc *fakeCloud) respond(path string, status int, body string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.responses[path] = append(fc.responses[path], cannedResponse{status: status, body: body})
}

func (fc *fakeCloud) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/hmip/")
	path = strings.TrimPrefix(path, "/")

	var body map[string]interface{}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)

	fc.mu.Lock()
	fc.requests = append(fc.requests, recordedRequest{Path: path, Header: r.Header.Clone(), Body: body})
	queue := fc.responses[path]
	resp := cannedResponse{status: http.StatusNotFound, body: `{"errorCode":"NOT_FOUND"}`}
	if len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			fc.responses[path] = queue[1:]
		}
	}
	fc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func (fc *fakeCloud) hosts() Hosts {
	return Hosts{RESTURL: fc.server.URL, WebSocketURL: fc.server.URL}
}

func (fc *fakeCloud) calls(path string) []recordedRequest {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var out []recordedRequest
	for _, r := range fc.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (fc *fakeCloud) requestCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.requests)
}

// newTestRESTClient returns a REST client whose hosts point at fc
func newTestRESTClient(t *testing.T, fc *fakeCloud, identity *Identity) RESTClient {
	t.Helper()

	rest := NewRESTClient(identity, RESTOptions{LookupURL: fc.server.URL + "/getHost"}, newTestLogger())
	rest.SetHosts(fc.hosts())
	return rest
}
