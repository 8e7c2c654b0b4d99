package server_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openimaging/upsd/pkg/api"
)

type testWebSocketEnv struct {
	*testServerEnv
	HTTP *httptest.Server
	Conn *websocket.Conn
}

const wsReadTimeout = 2 * time.Second

func testWebSocket(t *testing.T, ae string) *testWebSocketEnv {
	t.Helper()
	env := testServer(t)
	httpSrv := httptest.NewServer(env.Router)
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") +
		"/ws/subscribers/" + ae
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return &testWebSocketEnv{
		testServerEnv: env,
		HTTP:          httpSrv,
		Conn:          conn,
	}
}

func (e *testWebSocketEnv) readNotification(
	t *testing.T,
) *api.Notification {
	t.Helper()
	_ = e.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var n api.Notification
	require.NoError(t, e.Conn.ReadJSON(&n))
	return &n
}

func TestWebSocketReceivesStateChanges(t *testing.T) {
	env := testWebSocket(t, "PACS01")
	ctx := context.Background()

	w, err := env.Service.Create(ctx, api.Dataset(`{}`))
	require.NoError(t, err)
	_, err = env.Service.Subscribe(
		ctx, w.UID, "PACS01", &api.SubscribeRequest{},
	)
	require.NoError(t, err)

	// The current state is reported on subscribing
	n := env.readNotification(t)
	assert.Equal(t, w.UID, n.WorkitemUID)
	assert.Equal(t, api.StateScheduled, n.NewState)
	require.NotNil(t, n.Report)
	assert.Equal(t, api.UPSStateReport, n.Report.EventTypeID)

	_, err = env.Service.ChangeState(ctx, w.UID, api.StateInProgress, "")
	require.NoError(t, err)

	// Reports for the creation may still be in flight; skip to the
	// state change
	n = env.readNotification(t)
	for n.NewState == api.StateScheduled {
		n = env.readNotification(t)
	}
	assert.Equal(t, api.StateInProgress, n.NewState)
	assert.Equal(t, api.StateScheduled, n.PreviousState)
}

func TestWebSocketFlushesPendingReports(t *testing.T) {
	env := testServer(t)
	httpSrv := httptest.NewServer(env.Router)
	t.Cleanup(httpSrv.Close)
	ctx := context.Background()

	// Subscribe before any connection exists; the report waits in the
	// subscriber's outbox
	w, err := env.Service.Create(ctx, api.Dataset(`{}`))
	require.NoError(t, err)
	_, err = env.Service.Subscribe(
		ctx, w.UID, "PACS01", &api.SubscribeRequest{},
	)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") +
		"/ws/subscribers/PACS01"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var n api.Notification
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, w.UID, n.WorkitemUID)
}

func TestWebSocketDisconnectRemovesSubscriptions(t *testing.T) {
	env := testWebSocket(t, "PACS01")
	ctx := context.Background()

	w, err := env.Service.Create(ctx, api.Dataset(`{}`))
	require.NoError(t, err)
	_, err = env.Service.Subscribe(
		ctx, w.UID, "PACS01", &api.SubscribeRequest{},
	)
	require.NoError(t, err)

	require.NoError(t, env.Conn.Close())

	// Dropping the transport implicitly unsubscribes the AE title
	assert.Eventually(t, func() bool {
		return len(env.Service.Registry().Matching(w.UID, nil)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketInvalidAETitle(t *testing.T) {
	env := testServer(t)
	httpSrv := httptest.NewServer(env.Router)
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") +
		"/ws/subscribers/%2F%2F"
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if res != nil {
		assert.NotEqual(t, 101, res.StatusCode)
	}
}

func TestCloseWebSockets(t *testing.T) {
	env := testWebSocket(t, "PACS01")

	env.Server.CloseWebSockets()

	_ = env.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	for {
		if _, _, err := env.Conn.ReadMessage(); err != nil {
			break
		}
	}
}
