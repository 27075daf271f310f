package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/jadx-daemon/jadx-daemon-go/internal/signature"
	"github.com/sirupsen/logrus"
)

const (
	manifestNotFound = "AndroidManifest.xml not found or failed to load."
	classNotFound    = "Cannot find class `%s`."
)

// QueryHandler 清单、代码、类结构和交叉引用查询
type QueryHandler struct {
	reg     *registry.Registry
	metrics QueryRecorder
	logger  *logrus.Logger
}

// NewQueryHandler 创建查询处理器，metrics 可以为 nil
func NewQueryHandler(reg *registry.Registry, metrics QueryRecorder, logger *logrus.Logger) *QueryHandler {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &QueryHandler{
		reg:     reg,
		metrics: metrics,
		logger:  logger,
	}
}

type classParams struct {
	InstanceID string `form:"instanceId" binding:"required"`
	ClassName  string `form:"className" binding:"required"`
}

type methodParams struct {
	InstanceID string `form:"instanceId" binding:"required"`
	MethodName string `form:"methodName" binding:"required"`
}

type queryFunc func(ctx context.Context, s *session.Session) (interface{}, error)

// run 解析出会话后执行查询，并把错误映射为 HTTP 状态码
//   - 会话不存在: 500
//   - 数据不存在或会话未绑定: 404，使用 notFound 作为错误信息
func (h *QueryHandler) run(c *gin.Context, op, instanceID, notFound string, fn queryFunc) {
	ctx := c.Request.Context()

	s, err := h.reg.Get(ctx, instanceID)
	if err != nil {
		h.metrics.RecordQuery(op, outcomeError)
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := fn(ctx, s)
	switch {
	case err == nil:
		h.metrics.RecordQuery(op, outcomeOK)
		respondResult(c, result)
	case session.IsAbsent(err):
		h.metrics.RecordQuery(op, outcomeAbsent)
		h.logger.WithError(err).WithFields(logrus.Fields{
			"op":          op,
			"instance_id": instanceID,
		}).Debug("Query found nothing")
		respondError(c, http.StatusNotFound, notFound)
	default:
		// 引擎故障对调用方表现为查不到结果
		h.metrics.RecordQuery(op, outcomeError)
		h.logger.WithError(err).WithFields(logrus.Fields{
			"op":          op,
			"instance_id": instanceID,
		}).Error("Engine query failed")
		respondError(c, http.StatusNotFound, notFound)
	}
}

// invalid 签名格式错误返回 422
func (h *QueryHandler) invalid(c *gin.Context, op string, err error) {
	h.metrics.RecordQuery(op, outcomeInvalid)
	respondError(c, http.StatusUnprocessableEntity, err.Error())
}

// classQuery className 为类描述符，例如 Lcom/example/Foo;
func (h *QueryHandler) classQuery(c *gin.Context, op, notFoundFormat string, fn func(ctx context.Context, s *session.Session, class string) (interface{}, error)) {
	var p classParams
	if !bindQuery(c, &p) {
		return
	}

	class, err := signature.ToClassSignature(p.ClassName)
	if err != nil {
		h.invalid(c, op, err)
		return
	}

	h.run(c, op, p.InstanceID, fmt.Sprintf(notFoundFormat, p.ClassName),
		func(ctx context.Context, s *session.Session) (interface{}, error) {
			return fn(ctx, s, class)
		})
}

// methodQuery methodName 为方法引用，例如 Lcom/example/Foo;->bar(Ljava/lang/String;I)V
func (h *QueryHandler) methodQuery(c *gin.Context, op, notFoundFormat string, fn func(ctx context.Context, s *session.Session, class, method string) (interface{}, error)) {
	var p methodParams
	if !bindQuery(c, &p) {
		return
	}

	ref, err := signature.ParseMethodRef(p.MethodName)
	if err != nil {
		h.invalid(c, op, err)
		return
	}

	class, method := ref.Class, ref.Signature()
	h.run(c, op, p.InstanceID, fmt.Sprintf(notFoundFormat, p.MethodName),
		func(ctx context.Context, s *session.Session) (interface{}, error) {
			return fn(ctx, s, class, method)
		})
}

// GetManifest GET /get_manifest?instanceId=app
func (h *QueryHandler) GetManifest(c *gin.Context) {
	var p instanceParams
	if !bindQuery(c, &p) {
		return
	}
	h.run(c, "get_manifest", p.InstanceID, manifestNotFound,
		func(ctx context.Context, s *session.Session) (interface{}, error) {
			return s.Manifest(ctx)
		})
}

// GetAllExportedActivities GET /get_all_exported_activities?instanceId=app
func (h *QueryHandler) GetAllExportedActivities(c *gin.Context) {
	h.exported(c, "get_all_exported_activities", session.ComponentActivity)
}

// GetAllExportedServices GET /get_all_exported_services?instanceId=app
func (h *QueryHandler) GetAllExportedServices(c *gin.Context) {
	h.exported(c, "get_all_exported_services", session.ComponentService)
}

func (h *QueryHandler) exported(c *gin.Context, op string, kind session.ComponentKind) {
	var p instanceParams
	if !bindQuery(c, &p) {
		return
	}
	h.run(c, op, p.InstanceID, manifestNotFound,
		func(ctx context.Context, s *session.Session) (interface{}, error) {
			return s.ExportedComponents(ctx, kind)
		})
}

// GetMethodDecompiledCode GET /get_method_decompiled_code?instanceId=app&methodName=...
func (h *QueryHandler) GetMethodDecompiledCode(c *gin.Context) {
	h.methodQuery(c, "get_method_decompiled_code", "Cannot find method `%s`.",
		func(ctx context.Context, s *session.Session, class, method string) (interface{}, error) {
			return s.MethodSource(ctx, class, method)
		})
}

// GetClassDecompiledCode GET /get_class_decompiled_code?instanceId=app&className=...
func (h *QueryHandler) GetClassDecompiledCode(c *gin.Context) {
	h.classQuery(c, "get_class_decompiled_code", classNotFound,
		func(ctx context.Context, s *session.Session, class string) (interface{}, error) {
			return s.ClassSource(ctx, class)
		})
}

func (h *QueryHandler) GetClassSmaliCode(c *gin.Context) {
	h.classQuery(c, "get_class_smali_code", classNotFound,
		func(ctx context.Context, s *session.Session, class string) (interface{}, error) {
			return s.ClassSmali(ctx, class)
		})
}

func (h *QueryHandler) GetSuperClass(c *gin.Context) {
	h.classQuery(c, "get_superclass", classNotFound,
		func(ctx context.Context, s *session.Session, class string) (interface{}, error) {
			return s.SuperClass(ctx, class)
		})
}

func (h *QueryHandler) GetInterfaces(c *gin.Context) {
	h.classQuery(c, "get_interfaces", classNotFound,
		func(ctx context.Context, s *session.Session, class string) (interface{}, error) {
			return s.Interfaces(ctx, class)
		})
}

func (h *QueryHandler) GetClassMethods(c *gin.Context) {
	h.classQuery(c, "get_class_methods", classNotFound,
		func(ctx context.Context, s *session.Session, class string) (interface{}, error) {
			return s.Methods(ctx, class)
		})
}

func (h *QueryHandler) GetClassFields(c *gin.Context) {
	h.classQuery(c, "get_class_fields", classNotFound,
		func(ctx context.Context, s *session.Session, class string) (interface{}, error) {
			return s.Fields(ctx, class)
		})
}

// GetMethodCallers 调用该方法的位置
func (h *QueryHandler) GetMethodCallers(c *gin.Context) {
	h.methodQuery(c, "get_method_callers", "Cannot find caller for method `%s`.",
		func(ctx context.Context, s *session.Session, class, method string) (interface{}, error) {
			return s.MethodCallers(ctx, class, method)
		})
}

// GetClassCallers 引用该类的位置
func (h *QueryHandler) GetClassCallers(c *gin.Context) {
	h.classQuery(c, "get_class_callers", "Cannot find caller for class `%s`.",
		func(ctx context.Context, s *session.Session, class string) (interface{}, error) {
			return s.ClassCallers(ctx, class)
		})
}

// GetMethodOverrides 该方法覆盖的父类或接口方法
func (h *QueryHandler) GetMethodOverrides(c *gin.Context) {
	h.methodQuery(c, "get_method_overrides", "Cannot find overrides for method `%s`.",
		func(ctx context.Context, s *session.Session, class, method string) (interface{}, error) {
			return s.MethodOverrides(ctx, class, method)
		})
}
