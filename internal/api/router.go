package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/api/handlers"
	"github.com/jadx-daemon/jadx-daemon-go/internal/middleware"
	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/repository"
	"github.com/sirupsen/logrus"
)

// Deps 路由依赖，Metrics、History、Hub 为 nil 时不注册对应端点
type Deps struct {
	Addr     string
	Registry *registry.Registry
	Logger   *logrus.Logger
	Metrics  *middleware.PrometheusMetrics
	History  repository.EventRepository
	Hub      *handlers.SessionHub
}

func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	var recorder handlers.QueryRecorder
	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware())
		r.GET("/metrics", deps.Metrics.Handler())
		recorder = deps.Metrics
	}

	instanceHandler := handlers.NewInstanceHandler(deps.Registry, deps.Addr, deps.Logger)
	queryHandler := handlers.NewQueryHandler(deps.Registry, recorder, deps.Logger)

	// 会话生命周期
	r.GET("/health", instanceHandler.Health)
	r.GET("/load", instanceHandler.Load)
	r.GET("/load_dir", instanceHandler.LoadDir)
	r.GET("/unload", instanceHandler.Unload)
	r.GET("/unload_all", instanceHandler.UnloadAll)
	r.GET("/update_max_instance_count", instanceHandler.UpdateMaxInstanceCount)
	r.GET("/sessions", instanceHandler.ListSessions)

	// 清单
	r.GET("/get_manifest", queryHandler.GetManifest)
	r.GET("/get_all_exported_activities", queryHandler.GetAllExportedActivities)
	r.GET("/get_all_exported_services", queryHandler.GetAllExportedServices)

	// 代码
	r.GET("/get_method_decompiled_code", queryHandler.GetMethodDecompiledCode)
	r.GET("/get_class_decompiled_code", queryHandler.GetClassDecompiledCode)
	r.GET("/get_class_smali_code", queryHandler.GetClassSmaliCode)

	// 类结构
	r.GET("/get_superclass", queryHandler.GetSuperClass)
	r.GET("/get_interfaces", queryHandler.GetInterfaces)
	r.GET("/get_class_methods", queryHandler.GetClassMethods)
	r.GET("/get_class_fields", queryHandler.GetClassFields)

	// 调用者与覆盖
	r.GET("/get_method_callers", queryHandler.GetMethodCallers)
	r.GET("/get_class_callers", queryHandler.GetClassCallers)
	r.GET("/get_method_overrides", queryHandler.GetMethodOverrides)

	if deps.History != nil {
		historyHandler := handlers.NewHistoryHandler(deps.History, deps.Logger)
		r.GET("/sessions/history", historyHandler.ListHistory)
		r.GET("/sessions/history/counts", historyHandler.CountByType)
	}

	if deps.Hub != nil {
		r.GET("/ws/sessions", deps.Hub.HandleWebSocket)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		statusCode := c.Writer.Status()
		fields := logrus.Fields{
			"status":  statusCode,
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}
		if id := c.Query("instanceId"); id != "" {
			fields["instance_id"] = id
		}

		entry := logger.WithFields(fields)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Warn("HTTP Request")
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			entry.Debug("HTTP Request")
		default:
			entry.Info("HTTP Request")
		}
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
