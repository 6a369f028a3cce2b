package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"judgebox/internal/common/http/middleware"
	"judgebox/internal/progress/repository"
	"judgebox/internal/progress/service"
	appErr "judgebox/pkg/errors"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Code appErr.ErrorCode `json:"code"`
	Data struct {
		Status    string `json:"status"`
		Attempts  int    `json:"attempts"`
		ElapsedMs int64  `json:"elapsedMs"`
	} `json:"data"`
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.AuthMiddleware(nil, middleware.AuthConfig{Disabled: true}))
	svc := service.NewProgressService(repository.NewMemoryProgressRepository(5))
	NewProgressController(svc).Register(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v body=%s", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func TestProgressEndpoints(t *testing.T) {
	router := newRouter()

	status, env := do(t, router, http.MethodGet, "/problems/two-sum/progress")
	if status != http.StatusOK || env.Data.Status != "not_started" {
		t.Fatalf("unexpected initial progress: %d %+v", status, env)
	}

	status, env = do(t, router, http.MethodPost, "/problems/two-sum/progress/start")
	if status != http.StatusOK || env.Data.Status != "in_progress" {
		t.Fatalf("unexpected start response: %d %+v", status, env)
	}

	if status, _ = do(t, router, http.MethodPost, "/problems/two-sum/progress/pause"); status != http.StatusOK {
		t.Fatalf("pause status = %d", status)
	}

	status, env = do(t, router, http.MethodPost, "/problems/two-sum/progress/pause")
	if status != http.StatusConflict || env.Code != appErr.InvalidProgressTransition {
		t.Fatalf("expected conflict on double pause, got %d %+v", status, env)
	}

	if status, _ = do(t, router, http.MethodPost, "/problems/two-sum/progress/resume"); status != http.StatusOK {
		t.Fatalf("resume status = %d", status)
	}
}

func TestProgressList(t *testing.T) {
	router := newRouter()
	if status, _ := do(t, router, http.MethodPost, "/problems/two-sum/progress/start"); status != http.StatusOK {
		t.Fatalf("start status = %d", status)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/progress", nil))
	var env struct {
		Code appErr.ErrorCode `json:"code"`
		Data []struct {
			ProblemID string `json:"problemId"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode list: %v body=%s", err, w.Body.String())
	}
	if w.Code != http.StatusOK || len(env.Data) != 1 || env.Data[0].ProblemID != "two-sum" || env.Data[0].Status != "in_progress" {
		t.Fatalf("unexpected list response: %d %+v", w.Code, env)
	}
}
