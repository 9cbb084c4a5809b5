package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/audio-processing-be/internal/api/handler"
	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/internal/jobstore"
	"github.com/cuongbtq/audio-processing-be/internal/progress"
	"github.com/cuongbtq/audio-processing-be/internal/queue"
	"github.com/cuongbtq/audio-processing-be/internal/scheduler"
)

type apiEnv struct {
	router *gin.Engine
	store  *jobstore.MemoryStore
	bus    *progress.Bus
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := jobstore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })
	bus := progress.NewBus(progress.NewMemoryCache(time.Hour), progress.NewSubscriptionRegistry(logger), logger)

	manager := scheduler.NewManager(&scheduler.Config{
		Logger: logger,
		Store:  store,
		Queue:  q,
		Bus:    bus,
	})

	r := SetupRouter(&handler.Dependencies{
		Logger:    logger,
		Scheduler: manager,
		Store:     store,
		Bus:       bus,
	})

	return &apiEnv{router: r, store: store, bus: bus}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestEnqueueJobEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
		"user_id":     "user-1",
		"tool_type":   "converter",
		"settings":    map[string]any{"format": "mp3"},
		"input_files": []string{"a.wav"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "converter", body["tool_type"])
	assert.Equal(t, float64(domain.DefaultPriority), body["priority"])
}

func TestEnqueueJobEndpoint_Invalid(t *testing.T) {
	env := newAPIEnv(t)

	t.Run("missing body fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
			"tool_type": "converter",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown tool type", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
			"user_id":     "user-1",
			"tool_type":   "reverb",
			"input_files": []string{"a.wav"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "tool_type")
	})

	t.Run("no input files", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
			"user_id":   "user-1",
			"tool_type": "converter",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetJobEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	created := decodeBody(t, env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
		"user_id":     "user-1",
		"tool_type":   "converter",
		"input_files": []string{"a.wav"},
	}))
	jobID := created["job_id"].(string)

	t.Run("found", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/processing/jobs/"+jobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, jobID, decodeBody(t, rec)["job_id"])
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/processing/jobs/00000000-0000-0000-0000-000000000000", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/processing/jobs/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListJobsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
			"user_id":     "user-1",
			"tool_type":   "converter",
			"input_files": []string{"a.wav"},
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/processing/jobs?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []map[string]any `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Jobs, 3)

	// Other users see nothing
	rec = env.do(t, http.MethodGet, "/api/v1/processing/jobs?user_id=user-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Jobs)

	// user_id is mandatory
	rec = env.do(t, http.MethodGet, "/api/v1/processing/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobProgressEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	created := decodeBody(t, env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
		"user_id":     "user-1",
		"tool_type":   "converter",
		"input_files": []string{"a.wav"},
	}))
	jobID := created["job_id"].(string)

	t.Run("no snapshot yet", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/processing/jobs/"+jobID+"/progress", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("snapshot available", func(t *testing.T) {
		require.NoError(t, env.bus.Publish(context.Background(), &domain.ProgressSnapshot{
			JobID:          jobID,
			Progress:       33.33,
			Status:         domain.JobStatusProcessing,
			Message:        "Processing file 1 of 3...",
			CurrentStepNum: 2,
			TotalSteps:     5,
		}))

		rec := env.do(t, http.MethodGet, "/api/v1/processing/jobs/"+jobID+"/progress", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, 33.33, body["progress"])
		assert.Equal(t, "processing", body["status"])
		assert.Equal(t, float64(5), body["total_steps"])
	})
}

func TestCancelJobEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	created := decodeBody(t, env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
		"user_id":     "user-1",
		"tool_type":   "converter",
		"input_files": []string{"a.wav"},
	}))
	jobID := created["job_id"].(string)

	t.Run("missing user id", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/processing/jobs/"+jobID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong owner", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/processing/jobs/"+jobID+"?user_id=user-2", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner cancels", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/processing/jobs/"+jobID+"?user_id=user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cancelled", decodeBody(t, rec)["status"])
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/processing/jobs/00000000-0000-0000-0000-000000000000?user_id=user-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestQueueStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, "/api/v1/processing/jobs", map[string]any{
			"user_id":     "user-1",
			"tool_type":   "converter",
			"input_files": []string{"a.wav"},
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/processing/queue/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["pending_count"])
	assert.Equal(t, float64(0), body["active_count"])
	assert.Equal(t, float64(0), body["worker_count"])
}

func TestWatchJobProgressEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	jobID := uuid.New().String()
	require.NoError(t, env.bus.Publish(context.Background(), &domain.ProgressSnapshot{
		JobID:      jobID,
		Progress:   33.33,
		Status:     domain.JobStatusProcessing,
		Message:    "Processing file 1 of 3...",
		TotalSteps: 5,
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/processing/ws/" + jobID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// The cached snapshot is replayed on attach
	var replay domain.PushMessage
	require.NoError(t, conn.ReadJSON(&replay))
	assert.Equal(t, domain.PushMessageType, replay.Type)
	assert.Equal(t, jobID, replay.JobID)
	assert.InDelta(t, 33.33, replay.Progress, 0.01)
	assert.Equal(t, "Processing file 1 of 3...", replay.Message)

	// Keepalive: "ping" is answered with "pong"
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "pong", string(payload))

	// A publish after attach reaches the subscriber live
	require.NoError(t, env.bus.Publish(context.Background(), &domain.ProgressSnapshot{
		JobID:    jobID,
		Progress: 66.67,
		Status:   domain.JobStatusProcessing,
	}))

	var live domain.PushMessage
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, jobID, live.JobID)
	assert.InDelta(t, 66.67, live.Progress, 0.01)
}

func TestWatchJobProgressEndpoint_InvalidJobID(t *testing.T) {
	env := newAPIEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/processing/ws/not-a-uuid"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
