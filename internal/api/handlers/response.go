package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// 查询结果分类，用于指标
const (
	outcomeOK      = "ok"
	outcomeAbsent  = "absent"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

// QueryRecorder 记录查询结果的指标接口
type QueryRecorder interface {
	RecordQuery(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordQuery(string, string) {}

// respondResult 成功响应 {"result": ...}
func respondResult(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// respondError 失败响应 {"error": ...}
func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

var tagNameOnce sync.Once

// useFormTagNames 校验错误中使用查询参数名而不是结构体字段名
func useFormTagNames() {
	tagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
}

// bindQuery 绑定查询参数，失败时已写入 400 响应
func bindQuery(c *gin.Context, params interface{}) bool {
	useFormTagNames()
	if err := c.ShouldBindQuery(params); err != nil {
		respondError(c, http.StatusBadRequest, bindErrorMessage(err))
		return false
	}
	return true
}

func bindErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid query parameters: " + err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("Missing required query parameter `%s`.", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("Query parameter `%s` must be at least %s.", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("Query parameter `%s` must be at most %s.", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("Invalid query parameter `%s`.", fe.Field()))
		}
	}
	return strings.Join(msgs, " ")
}
