package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenchain/esg-approvals/internal/handler"
	"github.com/greenchain/esg-approvals/internal/repository"
	"github.com/greenchain/esg-approvals/internal/repository/memstore"
	"github.com/greenchain/esg-approvals/internal/service"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memstore.New()
	workflows := service.NewWorkflowService(store, service.RoleAudienceResolver{}, nil, nil, zerolog.Nop())
	audits := service.NewAuditService(store, zerolog.Nop())
	notifications := service.NewNotificationService(store)

	h := handler.NewHTTPHandler(workflows, audits, notifications, zerolog.Nop())
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func createWorkflowHTTP(t *testing.T, srv *httptest.Server) repository.ApprovalWorkflow {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", map[string]any{
		"title":       "Q1 ESG Submission",
		"submittedBy": "alice",
		"esgDataId":   "42",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var wf repository.ApprovalWorkflow
	require.NoError(t, json.Unmarshal(body, &wf))
	return wf
}

func TestCreateAndGetWorkflow(t *testing.T) {
	srv := newServer(t)
	wf := createWorkflowHTTP(t, srv)

	assert.Equal(t, "pending", wf.Status)
	assert.Equal(t, 1, wf.CurrentLevel)
	assert.Len(t, wf.Steps, 4)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got repository.ApprovalWorkflow
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "alice", got.SubmittedBy)
}

func TestCreateWorkflow_BadRequest(t *testing.T) {
	srv := newServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", map[string]any{
		"submittedBy": "alice",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "title")
}

func TestGetWorkflow_NotFound(t *testing.T) {
	srv := newServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApproveAndRejectFlow(t *testing.T) {
	srv := newServer(t)
	wf := createWorkflowHTTP(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID+"/approve", map[string]any{
		"level":    1,
		"approver": "bob",
		"comments": "looks good",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated repository.ApprovalWorkflow
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, 2, updated.CurrentLevel)

	// Out-of-order approval is a 400 with a descriptive message.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID+"/approve", map[string]any{
		"level":    4,
		"approver": "eve",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Cannot approve level 4")

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID+"/reject", map[string]any{
		"level":    2,
		"approver": "carol",
		"reason":   "missing data",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "rejected", updated.Status)

	// Terminal workflows refuse further actions.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID+"/approve", map[string]any{
		"level":    2,
		"approver": "bob",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListWorkflows_WithFilters(t *testing.T) {
	srv := newServer(t)
	createWorkflowHTTP(t, srv)
	createWorkflowHTTP(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows?status=pending&submittedBy=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var workflows []repository.ApprovalWorkflow
	require.NoError(t, json.Unmarshal(body, &workflows))
	assert.Len(t, workflows, 2)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows?status=approved", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &workflows))
	assert.Empty(t, workflows)
}

func TestAuditEndpoints(t *testing.T) {
	srv := newServer(t)
	wf := createWorkflowHTTP(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID+"/approve", map[string]any{
		"level":    1,
		"approver": "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/audit/logs?category=workflow&limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []repository.AuditEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "STEP_APPROVED", entries[0].Action)
	assert.Equal(t, "WORKFLOW_CREATED", entries[1].Action)
	assert.Equal(t, "0", entries[1].PreviousHash)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/audit/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var verdict struct {
		Valid   bool `json:"valid"`
		Entries int  `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(body, &verdict))
	assert.True(t, verdict.Valid)
	assert.Equal(t, 2, verdict.Entries)
}

func TestNotificationEndpoints(t *testing.T) {
	srv := newServer(t)
	createWorkflowHTTP(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/notifications/site_approvers?unreadOnly=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var notifications []repository.Notification
	require.NoError(t, json.Unmarshal(body, &notifications))
	require.Len(t, notifications, 1)
	assert.False(t, notifications[0].Read)

	url := fmt.Sprintf("%s/api/v1/workflows/notifications/%s/read", srv.URL, notifications[0].ID)
	resp, body = doJSON(t, http.MethodPatch, url, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var marked repository.Notification
	require.NoError(t, json.Unmarshal(body, &marked))
	assert.True(t, marked.Read)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/notifications/site_approvers?unreadOnly=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &notifications))
	assert.Empty(t, notifications)
}

func TestMarkNotificationRead_NotFound(t *testing.T) {
	srv := newServer(t)

	resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/api/v1/workflows/notifications/missing/read", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
