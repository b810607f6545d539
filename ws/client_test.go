package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rabbitx/models"
)

const testTimeout = 2 * time.Second

// fakeVenue is a scripted server end of the link: it accepts one websocket
// connection, pumps every client frame into a channel, and lets the test
// write arbitrary response frames.
type fakeVenue struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan []byte

	mu    sync.Mutex
	conn  *websocket.Conn
	ready chan struct{}
}

func newFakeVenue(t *testing.T) *fakeVenue {
	v := &fakeVenue{
		t:      t,
		frames: make(chan []byte, 64),
		ready:  make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.conn = conn
		v.mu.Unlock()
		close(v.ready)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			v.frames <- payload
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVenue) url() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http")
}

func (v *fakeVenue) waitConn() *websocket.Conn {
	select {
	case <-v.ready:
	case <-time.After(testTimeout):
		v.t.Fatal("timed out waiting for the client to connect")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn
}

func (v *fakeVenue) send(frame string) {
	if err := v.waitConn().WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		v.t.Fatalf("venue write failed: %v", err)
	}
}

// trySend writes best effort, for frames racing a client-side close.
func (v *fakeVenue) trySend(frame string) {
	v.waitConn().WriteMessage(websocket.TextMessage, []byte(frame))
}

func (v *fakeVenue) dropLink() {
	v.waitConn().Close()
}

func (v *fakeVenue) nextFrame() []byte {
	select {
	case frame := <-v.frames:
		return frame
	case <-time.After(testTimeout):
		v.t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func (v *fakeVenue) expectRequest() models.Request {
	v.t.Helper()
	var req models.Request
	if err := json.Unmarshal(v.nextFrame(), &req); err != nil {
		v.t.Fatalf("client frame is not a request: %v", err)
	}
	return req
}

func (v *fakeVenue) expectNoFrame(d time.Duration) {
	v.t.Helper()
	select {
	case frame := <-v.frames:
		v.t.Fatalf("unexpected client frame: %s", frame)
	case <-time.After(d):
	}
}

// syncHandler forwards events to channels so the test can assert on them
// regardless of which goroutine delivers.
type syncHandler struct {
	subs chan string
	data chan string
}

func newSyncHandler() *syncHandler {
	return &syncHandler{subs: make(chan string, 16), data: make(chan string, 16)}
}

func (h *syncHandler) OnSubscribe(data json.RawMessage) { h.subs <- string(data) }
func (h *syncHandler) OnData(data json.RawMessage)      { h.data <- string(data) }

func recv(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func expectQuiet(t *testing.T, ch chan string, what string) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected %s: %s", what, s)
	case <-time.After(150 * time.Millisecond):
	}
}

func runBothModes(t *testing.T, fn func(t *testing.T, mode Mode)) {
	for _, mode := range []Mode{ModeWorker, ModeInline} {
		mode := mode
		t.Run(string(mode), func(t *testing.T) {
			fn(t, mode)
		})
	}
}

func TestClientAuthenticateThenSubscribeThenPush(t *testing.T) {
	runBothModes(t, func(t *testing.T, mode Mode) {
		venue := newFakeVenue(t)
		handler := newSyncHandler()

		client, err := New(Options{URL: venue.url(), Token: "session-token", Mode: mode})
		if err != nil {
			t.Fatal(err)
		}
		client.RegisterHandler("orderbook:BTC-USD", handler)

		if err := client.Start(); err != nil {
			t.Fatal(err)
		}
		defer client.Stop()

		connect := venue.expectRequest()
		if connect.Connect == nil || connect.Connect.Token != "session-token" {
			t.Fatalf("first request should authenticate, got %+v", connect)
		}
		if connect.Connect.Name != "go" {
			t.Errorf("connect name = %q, want go", connect.Connect.Name)
		}
		if connect.ID != 1 {
			t.Errorf("connect id = %d, want 1", connect.ID)
		}
		venue.send(`{"id":1,"connect":{"client":"c1"}}`)

		subscribe := venue.expectRequest()
		if subscribe.Subscribe == nil || subscribe.Subscribe.Channel != "orderbook:BTC-USD" {
			t.Fatalf("second request should subscribe, got %+v", subscribe)
		}
		venue.send(`{"id":2,"subscribe":{"data":{"bids":[],"asks":[]}}}`)
		venue.send(`{"push":{"channel":"orderbook:BTC-USD","pub":{"data":{"sequence":1}}}}`)

		if got := recv(t, handler.subs, "subscribe event"); got != `{"bids":[],"asks":[]}` {
			t.Errorf("subscribe data = %s", got)
		}
		// The acknowledgement must reach the handler before the first push.
		if got := recv(t, handler.data, "push event"); got != `{"sequence":1}` {
			t.Errorf("push data = %s", got)
		}
		if !client.Subscribed("orderbook:BTC-USD") {
			t.Error("channel should be acknowledged")
		}
	})
}

func TestClientSubscribesDesiredChannelOnce(t *testing.T) {
	runBothModes(t, func(t *testing.T, mode Mode) {
		venue := newFakeVenue(t)
		first := newSyncHandler()
		second := newSyncHandler()

		client, err := New(Options{URL: venue.url(), Token: "tok", Mode: mode})
		if err != nil {
			t.Fatal(err)
		}
		// Two handlers and an explicit Subscribe on the same channel must
		// still produce exactly one subscribe request.
		client.RegisterHandler("account", first)
		client.RegisterHandler("account", second)
		if err := client.Subscribe("account"); err != nil {
			t.Fatal(err)
		}

		if err := client.Start(); err != nil {
			t.Fatal(err)
		}
		defer client.Stop()

		venue.expectRequest()
		venue.send(`{"id":1,"connect":{}}`)

		subscribe := venue.expectRequest()
		if subscribe.Subscribe == nil || subscribe.Subscribe.Channel != "account" {
			t.Fatalf("expected account subscribe, got %+v", subscribe)
		}
		venue.send(`{"id":2,"subscribe":{"data":{"orders":[]}}}`)

		recv(t, first.subs, "first handler subscribe")
		recv(t, second.subs, "second handler subscribe")

		// A late duplicate must not go over the wire either.
		if err := client.Subscribe("account"); err != nil {
			t.Fatal(err)
		}
		venue.expectNoFrame(150 * time.Millisecond)
	})
}

func TestClientSubscribeWhileAuthorizationInFlight(t *testing.T) {
	venue := newFakeVenue(t)
	handler := newSyncHandler()

	client, err := New(Options{URL: venue.url(), Token: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	venue.expectRequest() // authenticate, left unanswered for now

	client.RegisterHandler("trade:BTC-USD", handler)
	if err := client.Subscribe("trade:BTC-USD"); err != nil {
		t.Fatal(err)
	}

	// The subscribe request goes out right away, not after authentication.
	subscribe := venue.expectRequest()
	if subscribe.Subscribe == nil || subscribe.Subscribe.Channel != "trade:BTC-USD" {
		t.Fatalf("expected immediate subscribe, got %+v", subscribe)
	}

	// The late authenticate response must not re-send the channel.
	venue.send(`{"id":1,"connect":{}}`)
	venue.expectNoFrame(150 * time.Millisecond)

	venue.send(`{"id":2,"subscribe":{"data":{}}}`)
	recv(t, handler.subs, "subscribe event")
}

func TestClientFailedSendLeavesNoPendingRequest(t *testing.T) {
	venue := newFakeVenue(t)

	client, err := New(Options{URL: venue.url()})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	client.conn.Close()
	if err := client.Subscribe("trade:BTC-USD"); err == nil {
		t.Fatal("subscribe over a closed link should fail")
	}
	if got := client.corr.outstanding(); got != 0 {
		t.Errorf("outstanding = %d, want 0 after a failed send", got)
	}
}

func TestClientWithoutTokenSkipsAuthentication(t *testing.T) {
	venue := newFakeVenue(t)
	handler := newSyncHandler()

	client, err := New(Options{URL: venue.url(), Channels: []string{"orderbook:ETH-USD"}})
	if err != nil {
		t.Fatal(err)
	}
	client.RegisterHandler("orderbook:ETH-USD", handler)

	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	subscribe := venue.expectRequest()
	if subscribe.Connect != nil {
		t.Fatal("tokenless session must not authenticate")
	}
	if subscribe.Subscribe == nil || subscribe.Subscribe.Channel != "orderbook:ETH-USD" {
		t.Fatalf("expected subscribe first, got %+v", subscribe)
	}
}

func TestClientEchoesHeartbeat(t *testing.T) {
	runBothModes(t, func(t *testing.T, mode Mode) {
		venue := newFakeVenue(t)

		client, err := New(Options{URL: venue.url(), Mode: mode})
		if err != nil {
			t.Fatal(err)
		}
		if err := client.Start(); err != nil {
			t.Fatal(err)
		}
		defer client.Stop()

		venue.send("{}")
		if got := venue.nextFrame(); string(got) != "{}" {
			t.Errorf("heartbeat reply = %s, want {}", got)
		}
	})
}

func TestClientSplitsBatchedFrames(t *testing.T) {
	runBothModes(t, func(t *testing.T, mode Mode) {
		venue := newFakeVenue(t)
		handler := newSyncHandler()

		client, err := New(Options{URL: venue.url(), Mode: mode})
		if err != nil {
			t.Fatal(err)
		}
		client.RegisterHandler("trade:BTC-USD", handler)
		if err := client.Start(); err != nil {
			t.Fatal(err)
		}
		defer client.Stop()

		venue.expectRequest()
		venue.send(`{"id":1,"subscribe":{"data":null}}`)
		recv(t, handler.subs, "subscribe event")

		venue.send(`{"push":{"channel":"trade:BTC-USD","pub":{"data":{"seq":1}}}}` + "\n" +
			`{"push":{"channel":"trade:BTC-USD","pub":{"data":{"seq":2}}}}`)

		if got := recv(t, handler.data, "first batched push"); got != `{"seq":1}` {
			t.Errorf("first push = %s", got)
		}
		if got := recv(t, handler.data, "second batched push"); got != `{"seq":2}` {
			t.Errorf("second push = %s", got)
		}
	})
}

type panickingHandler struct{}

func (panickingHandler) OnSubscribe(json.RawMessage) { panic("subscribe blew up") }
func (panickingHandler) OnData(json.RawMessage)      { panic("data blew up") }

func TestClientIsolatesPanickingHandler(t *testing.T) {
	runBothModes(t, func(t *testing.T, mode Mode) {
		venue := newFakeVenue(t)
		survivor := newSyncHandler()

		client, err := New(Options{URL: venue.url(), Mode: mode})
		if err != nil {
			t.Fatal(err)
		}
		client.RegisterHandler("trade:BTC-USD", panickingHandler{})
		client.RegisterHandler("trade:BTC-USD", survivor)
		if err := client.Start(); err != nil {
			t.Fatal(err)
		}
		defer client.Stop()

		venue.expectRequest()
		venue.send(`{"id":1,"subscribe":{"data":{}}}`)
		recv(t, survivor.subs, "survivor subscribe event")

		venue.send(`{"push":{"channel":"trade:BTC-USD","pub":{"data":{"seq":7}}}}`)
		if got := recv(t, survivor.data, "survivor push"); got != `{"seq":7}` {
			t.Errorf("survivor push = %s", got)
		}
	})
}

func TestClientGlobalCallbacksRunBeforeHandlers(t *testing.T) {
	venue := newFakeVenue(t)
	handler := newSyncHandler()
	global := make(chan string, 16)

	client, err := New(Options{
		URL: venue.url(),
		OnMessage: func(channel string, data json.RawMessage) {
			global <- channel + ":" + string(data)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	client.RegisterHandler("trade:BTC-USD", handler)
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	venue.expectRequest()
	venue.send(`{"id":1,"subscribe":{"data":{}}}`)
	recv(t, handler.subs, "subscribe event")

	venue.send(`{"push":{"channel":"trade:BTC-USD","pub":{"data":{"seq":1}}}}`)
	if got := recv(t, global, "global callback"); got != `trade:BTC-USD:{"seq":1}` {
		t.Errorf("global callback got %s", got)
	}
	recv(t, handler.data, "handler push")
}

func TestClientRejectedAuthenticationEndsSession(t *testing.T) {
	venue := newFakeVenue(t)

	client, err := New(Options{URL: venue.url(), Token: "bad-token"})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	venue.expectRequest()
	venue.send(`{"id":1,"error":{"code":109,"message":"token expired"}}`)

	select {
	case <-client.Done():
	case <-time.After(testTimeout):
		t.Fatal("session should end after a rejected authentication")
	}
	if client.Err() == nil {
		t.Error("Err should report the rejection")
	}
}

func TestClientLinkDropEndsSession(t *testing.T) {
	venue := newFakeVenue(t)

	client, err := New(Options{URL: venue.url()})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	venue.dropLink()

	select {
	case <-client.Done():
	case <-time.After(testTimeout):
		t.Fatal("session should end when the link drops")
	}
	if client.Err() == nil {
		t.Error("Err should report the transport failure")
	}
}

func TestClientStopSuppressesDelivery(t *testing.T) {
	runBothModes(t, func(t *testing.T, mode Mode) {
		venue := newFakeVenue(t)
		handler := newSyncHandler()

		client, err := New(Options{URL: venue.url(), Mode: mode})
		if err != nil {
			t.Fatal(err)
		}
		client.RegisterHandler("trade:BTC-USD", handler)
		if err := client.Start(); err != nil {
			t.Fatal(err)
		}

		venue.expectRequest()
		venue.send(`{"id":1,"subscribe":{"data":{}}}`)
		recv(t, handler.subs, "subscribe event")

		client.Stop()
		client.Stop() // idempotent

		venue.trySend(`{"push":{"channel":"trade:BTC-USD","pub":{"data":{"seq":1}}}}`)
		expectQuiet(t, handler.data, "push after stop")

		if err := client.Start(); err != ErrAlreadyRunning {
			t.Errorf("restart returned %v, want ErrAlreadyRunning", err)
		}
	})
}

func TestClientOptionValidation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("missing endpoint should fail")
	}
	if _, err := New(Options{URL: "ws://x", Network: "ethereum"}); err == nil {
		t.Error("url and network together should fail")
	}
	if _, err := New(Options{Network: "atlantis"}); err == nil {
		t.Error("unknown network should fail")
	}
	if _, err := New(Options{URL: "ws://x", Mode: "threaded"}); err == nil {
		t.Error("unknown dispatch mode should fail")
	}
	if _, err := New(Options{Network: "ethereum"}); err != nil {
		t.Errorf("known network should resolve: %v", err)
	}
}
