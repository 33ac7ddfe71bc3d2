package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/api/middleware"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/tenant"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiEnv struct {
	router *gin.Engine
	reg    *tenant.Registry
	feeds  *feed.MemoryClient
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "_{tenant}?mode=memory&cache=shared",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			AutoMigrate:  true,
		},
		Queue: config.QueueConfig{
			Transport:       "memory",
			Topic:           "tagged_post_activity",
			ConsumerName:    "tagged-activity-handler",
			Replay:          true,
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			CloseTimeout:    time.Second,
			Breaker:         config.BreakerConfig{FailureThreshold: 5, Timeout: time.Second},
		},
		Timeline: config.TimelineConfig{
			AggregateCap:      6,
			PopulationSize:    10,
			DefaultLimit:      30,
			FanoutConcurrency: 2,
			FollowerBatch:     10,
		},
		Background: config.BackgroundConfig{Workers: 2, QueueSize: 100, TaskTimeout: 5 * time.Second},
		Tenants:    []string{"acme"},
	}
}

func newAPIEnv(t *testing.T, run bool) *apiEnv {
	t.Helper()
	cfg := testConfig(t)
	feeds := feed.NewMemoryClient()
	reg := tenant.NewRegistry()
	s, err := tenant.Open(cfg, "acme", tenant.Options{Feeds: feeds})
	require.NoError(t, err)
	require.NoError(t, reg.Register("acme", s))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	if run {
		go func() {
			defer close(done)
			_ = s.Run(ctx)
		}()
		select {
		case <-s.Running():
		case <-time.After(5 * time.Second):
			t.Fatal("router did not start")
		}
	} else {
		close(done)
	}
	t.Cleanup(func() {
		cancel()
		<-done
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = reg.Close(closeCtx)
	})
	return &apiEnv{router: NewRouter(cfg, reg), reg: reg, feeds: feeds}
}

func (e *apiEnv) do(t *testing.T, method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUser, user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func publishRequest(post string, tags ...string) map[string]any {
	return map[string]any{
		"entity_type": "user",
		"entity_id":   "author",
		"activity": map[string]any{
			"actor":  "author",
			"verb":   "publish",
			"object": "post:" + post,
			"tags":   tags,
			"time":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

func TestHealthz(t *testing.T) {
	t.Run("stopped", func(t *testing.T) {
		e := newAPIEnv(t, false)
		w, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("running", func(t *testing.T) {
		e := newAPIEnv(t, true)
		w, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"acme":true`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	e := newAPIEnv(t, false)
	w, _ := e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSwaggerDocs(t *testing.T) {
	e := newAPIEnv(t, false)
	w, _ := e.do(t, http.MethodGet, "/swagger/doc.json", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "disabled by default")

	cfg := testConfig(t)
	cfg.Server.Swagger = true
	router := NewRouter(cfg, e.reg)
	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tagstream API")
	assert.Contains(t, rec.Body.String(), "/api/v1/tag-activity/{tag}")
}

func TestUnknownTenant(t *testing.T) {
	e := newAPIEnv(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tag-activity/go", nil)
	req.Header.Set(middleware.HeaderTenant, "initech")
	req.Header.Set(middleware.HeaderUser, "u1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFollowRequiresActingFollower(t *testing.T) {
	e := newAPIEnv(t, false)

	w, _ := e.do(t, http.MethodPost, "/api/v1/tag/go/followers/u1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/tag/go/followers/u1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(t, http.MethodDelete, "/api/v1/tag/go/followers/u1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/group/g1/followers/u1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/user/u1/followers/u1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "self follow")
}

func TestFollowTagLifecycle(t *testing.T) {
	e := newAPIEnv(t, true)

	w, env := e.do(t, http.MethodPost, "/api/v1/tag/go/followers/u1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var followed struct {
		Following bool `json:"following"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &followed))
	assert.True(t, followed.Following)

	w, _ = e.do(t, http.MethodGet, "/api/v1/tag/go/followers/u1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/v1/tag/go/followers/u9", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = e.do(t, http.MethodPost, "/api/v1/tag/_ALL/followers/u1", "u1", map[string]any{"entities": []string{"go", "rust"}})
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Values []struct {
			ID        string `json:"_id"`
			Following bool   `json:"following"`
		} `json:"values"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.Len(t, status.Values, 1)
	assert.Equal(t, "go", status.Values[0].ID)

	w, _ = e.do(t, http.MethodPost, "/api/v1/activities", "", publishRequest("p1", "go"))
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w, env := e.do(t, http.MethodGet, "/api/v1/tag-activity/go", "u1", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var page struct {
			Values []struct {
				Post string `json:"post"`
			} `json:"values"`
		}
		return json.Unmarshal(env.Data, &page) == nil && len(page.Values) == 1 && page.Values[0].Post == "p1"
	}, 5*time.Second, 10*time.Millisecond)

	w, env = e.do(t, http.MethodGet, "/api/v1/tag-activity/_ALL?limit=5", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var agg struct {
		Values []struct {
			Tag   string   `json:"tag"`
			Posts []string `json:"posts"`
		} `json:"values"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &agg))
	require.Len(t, agg.Values, 1)
	assert.Equal(t, []string{"p1"}, agg.Values[0].Posts)

	w, _ = e.do(t, http.MethodDelete, "/api/v1/tag/go/followers/u1", "u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = e.do(t, http.MethodDelete, "/api/v1/tag/go/followers/u1", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimelineQueryValidation(t *testing.T) {
	e := newAPIEnv(t, false)

	w, _ := e.do(t, http.MethodGet, "/api/v1/activities/bogus", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/v1/activities/flat?limit=-1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/v1/tag-activity/go?before=abc", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/v1/tag-activity/_ALL?before=yesterday", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/v1/activities/flat", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoadActivities(t *testing.T) {
	e := newAPIEnv(t, false)

	w, _ := e.do(t, http.MethodPost, "/api/v1/user/author/followers/u1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = e.do(t, http.MethodPost, "/api/v1/activities", "", publishRequest("p1", "go"))
	require.Equal(t, http.StatusOK, w.Code)

	w, env := e.do(t, http.MethodGet, "/api/v1/activities/flat", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Activities []struct {
			Object struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			} `json:"object"`
		} `json:"activities"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Activities, 1)
	assert.Equal(t, "post", page.Activities[0].Object.Type)
	assert.Equal(t, "p1", page.Activities[0].Object.ID)

	e.feeds.FailOn("get", "", feed.ErrUnavailable)
	w, _ = e.do(t, http.MethodGet, "/api/v1/activities/aggregated", "u1", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPostActivity(t *testing.T) {
	e := newAPIEnv(t, false)

	w, _ := e.do(t, http.MethodPost, "/api/v1/activities", "", map[string]any{
		"entity_type": "user",
		"entity_id":   "author",
		"activity":    map[string]any{"verb": "publish"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/activities", "", map[string]any{
		"entity_type": "planet",
		"entity_id":   "mars",
		"activity":    map[string]any{"actor": "a", "verb": "publish", "object": "post:p1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := publishRequest("p2", "go")
	req["forward"] = false
	w, _ = e.do(t, http.MethodPost, "/api/v1/activities", "", req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, e.feeds.Activities("user:author"))

	e.feeds.FailOn("add_activity", "", errors.New("provider down"))
	w, env := e.do(t, http.MethodPost, "/api/v1/activities", "", publishRequest("p3", "go"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "forward_failed", env.Message)
}
