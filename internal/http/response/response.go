package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestIDKey gin 上下文中的请求 ID 键
const RequestIDKey = "request_id"

// Response 统一响应结构；status_code 与 HTTP 状态一致，成功为 0
type Response struct {
	StatusCode int         `json:"status_code"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
	HasMore   bool  `json:"has_more"`
}

// NewPagination 根据总数计算页数
func NewPagination(page, pageSize int, total int64) Pagination {
	p := Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		p.TotalPage = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	p.HasMore = int64(page) < p.TotalPage
	return p
}

func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, Response{StatusCode: CodeOK, Msg: "success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, Response{StatusCode: CodeOK, Msg: "created", Data: data})
}

// SuccessWithPage 列表响应
func SuccessWithPage(c *gin.Context, data interface{}, pagination Pagination) {
	write(c, http.StatusOK, Response{StatusCode: CodeOK, Msg: "success", Data: data, Pagination: &pagination})
}

// Error 错误响应，code 同时作为 HTTP 状态
func Error(c *gin.Context, code int, msg string) {
	write(c, httpStatus(code), Response{StatusCode: code, Msg: msg})
}

// Abort 写错误响应并终止中间件链
func Abort(c *gin.Context, code int, msg string) {
	Error(c, code, msg)
	c.Abort()
}

func write(c *gin.Context, status int, body Response) {
	if id, ok := c.Get(RequestIDKey); ok {
		body.RequestID, _ = id.(string)
	}
	c.JSON(status, body)
}
