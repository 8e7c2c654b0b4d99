package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openimaging/upsd/internal/server"
	"github.com/openimaging/upsd/internal/store"
	"github.com/openimaging/upsd/internal/worklist"
	"github.com/openimaging/upsd/pkg/api"
)

type testServerEnv struct {
	Server  *server.Server
	Service *worklist.Service
	Router  *gin.Engine
}

func testServer(t *testing.T) *testServerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := store.NewMemoryStore()
	svc := worklist.NewService(repo, repo, worklist.NewRegistry(0), nil)
	svc.Start()
	t.Cleanup(svc.Stop)
	srv := server.NewServer(svc)
	return &testServerEnv{
		Server:  srv,
		Service: svc,
		Router:  srv.SetupRoutes(),
	}
}

func (env *testServerEnv) do(
	method, path string, body []byte,
) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	return w
}

func (env *testServerEnv) createWorkitem(
	t *testing.T, label string,
) api.WorkitemUID {
	t.Helper()
	body := []byte(`{
		"00741204": {"vr": "LO", "Value": ["` + label + `"]}
	}`)
	w := env.do("POST", "/workitems", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var res api.CreatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.UID
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)
	env.createWorkitem(t, "CT Head")

	w := env.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var res api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "healthy", res.Status)
	assert.Equal(t, int64(1), res.Published)
	assert.Zero(t, res.Dropped)
}

func TestCreateWorkitemEndpoint(t *testing.T) {
	env := testServer(t)

	uid := env.createWorkitem(t, "CT Head")
	assert.True(t, uid.IsValid())
}

func TestCreateWorkitemDuplicate(t *testing.T) {
	env := testServer(t)

	body := []byte(`{
		"00080018": {"vr": "UI", "Value": ["1.2.3.4"]}
	}`)
	w := env.do("POST", "/workitems", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do("POST", "/workitems", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateWorkitemBadUID(t *testing.T) {
	env := testServer(t)

	// A malformed SOP Instance UID is a bad request, not a conflict
	body := []byte(`{
		"00080018": {"vr": "UI", "Value": ["not-a-uid"]}
	}`)
	w := env.do("POST", "/workitems", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetWorkitemEndpoint(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	w := env.do("GET", "/workitems/"+string(uid), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var res api.Workitem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, uid, res.UID)
	assert.Equal(t, api.StateScheduled, res.State)

	w = env.do("GET", "/workitems/9.9.9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchWorkitemsEndpoint(t *testing.T) {
	env := testServer(t)
	env.createWorkitem(t, "CT Head")
	env.createWorkitem(t, "MR Knee")

	w := env.do("GET", "/workitems", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res api.WorkitemsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Count)

	w = env.do("GET", "/workitems?00741204=CT*", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Count)
}

func TestUpdateWorkitemEndpoint(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	body, _ := json.Marshal(api.UpdateRequest{
		Patch: api.Dataset(`{
			"00741204": {"vr": "LO", "Value": ["CT Head Contrast"]}
		}`),
		ExpectedVersion: -1,
	})
	w := env.do("POST", "/workitems/"+string(uid), body)
	assert.Equal(t, http.StatusOK, w.Code)

	var res api.Workitem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "CT Head Contrast", res.ProcedureStepLabel())
}

func TestUpdateWorkitemStatePatchRejected(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	body, _ := json.Marshal(api.UpdateRequest{
		Patch: api.Dataset(`{
			"00741000": {"vr": "CS", "Value": ["COMPLETED"]}
		}`),
		ExpectedVersion: -1,
	})
	w := env.do("POST", "/workitems/"+string(uid), body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateWorkitemVersionConflict(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	body, _ := json.Marshal(api.UpdateRequest{
		Patch: api.Dataset(`{
			"00741204": {"vr": "LO", "Value": ["Renamed"]}
		}`),
		ExpectedVersion: 7,
	})
	w := env.do("POST", "/workitems/"+string(uid), body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestChangeStateEndpoint(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	body, _ := json.Marshal(api.ChangeStateRequest{State: "IN PROGRESS"})
	w := env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	require.Equal(t, http.StatusOK, w.Code)

	var claimed api.Workitem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	assert.Equal(t, api.StateInProgress, claimed.State)
	require.NotEmpty(t, claimed.TransactionUID)

	// Completing without the transaction UID is rejected
	body, _ = json.Marshal(api.ChangeStateRequest{State: "COMPLETED"})
	w = env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ = json.Marshal(api.ChangeStateRequest{
		State:          "COMPLETED",
		TransactionUID: claimed.TransactionUID,
	})
	w = env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangeStateInvalid(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	body, _ := json.Marshal(api.ChangeStateRequest{State: "BOGUS"})
	w := env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// SCHEDULED cannot complete directly
	body, _ = json.Marshal(api.ChangeStateRequest{State: "COMPLETED"})
	w = env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestChangeStateSecondClaimConflicts(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	body, _ := json.Marshal(api.ChangeStateRequest{State: "IN PROGRESS"})
	w := env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	require.Equal(t, http.StatusOK, w.Code)

	body, _ = json.Marshal(api.ChangeStateRequest{
		State:          "IN PROGRESS",
		TransactionUID: "2.25.999",
	})
	w = env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelRequestEndpoint(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	body, _ := json.Marshal(api.CancelRequest{Reason: "order withdrawn"})
	w := env.do("POST", "/workitems/"+string(uid)+"/cancelrequest", body)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = env.do("GET", "/workitems/"+string(uid), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res api.Workitem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, api.StateCanceled, res.State)
}

func TestCancelRequestEmptyBody(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	w := env.do("POST", "/workitems/"+string(uid)+"/cancelrequest", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSubscribeEndpoint(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	w := env.do(
		"POST", "/workitems/"+string(uid)+"/subscribers/PACS01", nil,
	)
	require.Equal(t, http.StatusCreated, w.Code)

	var sub api.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.Equal(t, api.AETitle("PACS01"), sub.AETitle)
	assert.Equal(t, uid, sub.Scope)
}

func TestSubscribeMissingWorkitemEndpoint(t *testing.T) {
	env := testServer(t)

	w := env.do("POST", "/workitems/9.9.9/subscribers/PACS01", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscribeGlobalEndpoint(t *testing.T) {
	env := testServer(t)

	path := "/workitems/" + string(api.GlobalSubscriptionUID) +
		"/subscribers/PACS01"
	w := env.do("POST", path, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var sub api.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.True(t, sub.IsGlobal())
}

func TestUnsubscribeEndpoint(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	path := "/workitems/" + string(uid) + "/subscribers/PACS01"
	w := env.do("POST", path, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do("DELETE", path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("DELETE", path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSuspendEndpoint(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	path := "/workitems/" + string(uid) + "/subscribers/PACS01"
	w := env.do("POST", path, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do("POST", path+"/suspend", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.Service.Registry().Matching(uid, nil))

	w = env.do("POST", path+"/suspend", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSuspendUnknownSubscription(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	w := env.do(
		"POST", "/workitems/"+string(uid)+"/subscribers/PACS01/suspend", nil,
	)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	env := testServer(t)
	uid := env.createWorkitem(t, "CT Head")

	w := env.do(
		"PUT", "/workitems/"+string(uid)+"/state", []byte("not-json"),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSubscribeCancelFlow(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()
	uid := env.createWorkitem(t, "CT Head")

	_, err := env.Service.Subscribe(
		ctx, uid, "PACS01", &api.SubscribeRequest{},
	)
	require.NoError(t, err)

	body, _ := json.Marshal(api.ChangeStateRequest{State: "IN PROGRESS"})
	w := env.do("PUT", "/workitems/"+string(uid)+"/state", body)
	require.Equal(t, http.StatusOK, w.Code)

	var claimed api.Workitem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))

	// Cancel request against an owned workitem is advisory
	cancel, _ := json.Marshal(api.CancelRequest{RequestingAE: "PACS02"})
	w = env.do("POST", "/workitems/"+string(uid)+"/cancelrequest", cancel)
	assert.Equal(t, http.StatusAccepted, w.Code)

	got, err := env.Service.Retrieve(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, api.StateInProgress, got.State)
}
