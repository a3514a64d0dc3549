package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/modeltrainer/api/internal/eventbus"
	"github.com/modeltrainer/api/internal/handler"
	"github.com/modeltrainer/api/internal/health"
	"github.com/modeltrainer/api/internal/model"
	"github.com/modeltrainer/api/internal/queue"
	"github.com/modeltrainer/api/internal/registry"
	"github.com/modeltrainer/api/internal/relay"
	"github.com/modeltrainer/api/internal/service"
	"github.com/modeltrainer/api/internal/trainer"
	ws "github.com/modeltrainer/api/internal/websocket"
	"github.com/modeltrainer/api/internal/worker"
	"github.com/modeltrainer/api/pkg/backoff"
)

// testApp holds the full stack wired the same way as cmd/server, against a
// local Redis on DB 15 with a queue and channel unique to the test
type testApp struct {
	app      *fiber.App
	hub      *ws.Hub
	registry *registry.Registry
	addr     string
}

func setupApp(t *testing.T, epochDelay time.Duration) *testApp {
	t.Helper()

	redisOpts := &redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	}
	redisClient := redis.NewClient(redisOpts)
	t.Cleanup(func() { redisClient.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	suffix := uuid.NewString()[:8]
	queueName := "e2e-training-" + suffix
	channel := "e2e_model_updates_" + suffix

	asynqOpt := worker.RedisConnOpt(redisOpts)
	asynqClient := asynq.NewClient(asynqOpt)
	inspector := asynq.NewInspector(asynqOpt)
	t.Cleanup(func() {
		inspector.DeleteQueue(queueName, true)
		inspector.Close()
		asynqClient.Close()
	})

	reg := registry.New(redisClient, time.Hour)
	bus := eventbus.NewRedisBus(redisClient, channel, nil)
	dispatcher := queue.NewDispatcher(asynqClient, inspector, queue.Options{
		Queue:     queueName,
		MaxRetry:  0,
		Retention: time.Minute,
	})
	svc := service.NewTrainingService(reg, dispatcher, bus, nil)

	hub := ws.NewHub(ws.Options{}, nil)
	listener := relay.NewListener(bus, hub, relay.Config{
		Backoff: backoff.Config{Initial: 50 * time.Millisecond, Max: time.Second},
	}, nil)
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		listener.Run(relayCtx)
	}()
	t.Cleanup(func() {
		stopRelay()
		<-relayDone
	})
	waitFor(t, 5*time.Second, func() bool { return listener.State() == relay.StateListening })

	tw := worker.NewTrainingWorker(reg, bus, trainer.NewSimulated(epochDelay), 2*time.Second, nil)
	srv := worker.NewServer(asynqOpt, worker.ServerConfig{
		Queue:       queueName,
		Concurrency: 2,
		CancelGrace: 2 * time.Second,
		LogLevel:    "error",
	})
	if err := srv.Start(worker.NewServeMux(tw)); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	checker := health.NewChecker().
		Require("redis", health.ReadyFunc(reg.Ping)).
		Watch("relay", listener)

	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	app.Use(recover.New())
	routes := &handler.Routes{
		Training: handler.NewTrainingHandler(svc, handler.NewValidator()),
		Health:   handler.NewHealthHandler(checker),
		Push:     handler.NewPushHandler(hub),
	}
	routes.Mount(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return &testApp{app: app, hub: hub, registry: reg, addr: ln.Addr().String()}
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(b, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, b)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// submit posts a training request and returns the task id
func submit(t *testing.T, app *fiber.App, body string) string {
	t.Helper()
	resp := doRequest(t, app, http.MethodPost, "/train", body)
	assertStatus(t, resp, http.StatusOK)
	data := parseJSON(t, resp)
	taskID, _ := data["task_id"].(string)
	if taskID == "" {
		t.Fatalf("expected task_id, got %v", data)
	}
	return taskID
}

// status fetches the status envelope of one task
func status(t *testing.T, app *fiber.App, taskID string) map[string]interface{} {
	t.Helper()
	resp := doRequest(t, app, http.MethodGet, "/training-status/"+taskID, "")
	assertStatus(t, resp, http.StatusOK)
	return parseJSON(t, resp)
}

// awaitState polls the status endpoint until the task reaches state
func awaitState(t *testing.T, app *fiber.App, taskID string, state model.JobState, timeout time.Duration) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	waitFor(t, timeout, func() bool {
		last = status(t, app, taskID)
		return last["status"] == string(state)
	})
	return last
}
