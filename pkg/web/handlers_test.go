package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/studio233/flowcore/pkg/dispatch"
	"github.com/studio233/flowcore/pkg/log"
	"github.com/studio233/flowcore/pkg/mocks"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
	"github.com/studio233/flowcore/pkg/persistence/memory"
	"github.com/studio233/flowcore/pkg/registry"
	"github.com/studio233/flowcore/pkg/services"
	"github.com/studio233/flowcore/pkg/status"
	"github.com/studio233/flowcore/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	logger := log.WithModule("web-test")

	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	dispatcher := dispatch.NewDispatcher(publisher, store.Runs(), logger).
		WithBackoff(time.Millisecond)

	workflowService := services.NewWorkflow(store, registry.NewDefaultRegistry(logger))
	runService := services.NewRun(store, dispatcher, logger)
	projector := status.NewProjector(store.Runs(), logger)

	handlers := web.NewAPIHandlers(
		workflowService,
		runService,
		projector,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app)

	return app, store
}

func authedRequest(method, target string, body []byte) *http.Request {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.HeaderUserID, "user-1")
	req.Header.Set(web.HeaderProjectID, "project-1")

	return req
}

func createWorkflow(t *testing.T, app *fiber.App, reqBody web.CreateWorkflowRequest) models.WorkflowDefinition {
	t.Helper()

	body, err := json.Marshal(reqBody)
	require.NoError(t, err)

	resp, err := app.Test(authedRequest(http.MethodPost, "/workflows", body))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.WorkflowDefinition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	return created
}

func TestCreateWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, web.CreateWorkflowRequest{Name: "Studio flow"})

	assert.Equal(t, "Studio flow", created.Name)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, "project-1", created.ProjectID)
	assert.Len(t, created.Nodes, 3, "empty workflows are seeded with the template")
}

func TestCreateWorkflow_Invalid(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{
			name:           "missing name",
			body:           `{"description": "no name"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed json",
			body:           `{"name": `,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "cyclic graph",
			body: `{"name": "Cycle", "nodes": [{"id": "a"}, {"id": "b"}],
				"edges": [{"source": "a", "target": "b"}, {"source": "b", "target": "a"}]}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(authedRequest(http.MethodPost, "/workflows", []byte(tt.body)))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestWorkflows_RequireIdentity(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetWorkflow_ScopedToOwner(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, web.CreateWorkflowRequest{Name: "Private"})

	req := httptest.NewRequest(http.MethodGet, "/workflows/"+created.ID, nil)
	req.Header.Set(web.HeaderUserID, "someone-else")
	req.Header.Set(web.HeaderProjectID, "project-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateWorkflow_AutosavePayload(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, web.CreateWorkflowRequest{Name: "Canvas"})

	update := web.UpdateWorkflowRequest{
		Nodes: []*models.Node{
			{ID: "trigger-1", Type: models.NodeTypeInput},
			{ID: "new-node", Type: models.NodeTypeDefault},
		},
		Edges: []*models.Edge{
			{Source: "trigger-1", Target: "new-node"},
		},
	}

	body, err := json.Marshal(update)
	require.NoError(t, err)

	resp, err := app.Test(authedRequest(http.MethodPatch, "/workflows/"+created.ID, body))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.WorkflowDefinition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))

	assert.Equal(t, "Canvas", updated.Name, "name untouched by graph-only autosave")
	assert.Len(t, updated.Nodes, 2)
}

func TestDeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, web.CreateWorkflowRequest{Name: "Doomed"})

	resp, err := app.Test(authedRequest(http.MethodDelete, "/workflows/"+created.ID, nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(authedRequest(http.MethodGet, "/workflows/"+created.ID, nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, web.CreateWorkflowRequest{Name: "Runnable"})

	resp, err := app.Test(authedRequest(http.MethodPost, "/workflows/"+created.ID+"/runs", []byte(`{"input": {"batch": 2}}`)))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var detail persistence.RunDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))

	assert.Equal(t, models.RunStatePending, detail.Run.State)
	assert.Len(t, detail.Steps, 3)

	// Steps come back in execution order.
	for i, step := range detail.Steps {
		assert.Equal(t, i, step.Order)
	}
}

func TestStartRun_UnknownWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, err := app.Test(authedRequest(http.MethodPost, "/workflows/missing/runs", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, web.CreateWorkflowRequest{Name: "Inspect"})

	resp, err := app.Test(authedRequest(http.MethodPost, "/workflows/"+created.ID+"/runs", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started persistence.RunDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))

	resp, err = app.Test(authedRequest(http.MethodGet, "/runs/"+started.Run.ID, nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched persistence.RunDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	assert.Equal(t, started.Run.ID, fetched.Run.ID)
}

func TestGetRuns(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	created := createWorkflow(t, app, web.CreateWorkflowRequest{Name: "Listed"})

	for range 2 {
		resp, err := app.Test(authedRequest(http.MethodPost, "/workflows/"+created.ID+"/runs", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp, err := app.Test(authedRequest(http.MethodGet, "/runs/", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Runs []*models.WorkflowRun `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Len(t, listing.Runs, 2)
}

func TestStreamRun_UnknownRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, err := app.Test(authedRequest(http.MethodGet, "/runs/missing/stream", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
