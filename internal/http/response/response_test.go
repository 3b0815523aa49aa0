package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func runHandler(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(RequestIDKey, "req-1")
	handler(c)

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	return w, body
}

func TestErrorUsesCodeAsHTTPStatus(t *testing.T) {
	w, body := runHandler(t, func(c *gin.Context) { Abort(c, CodeConflict, "order exists") })
	if w.Code != http.StatusConflict || body.StatusCode != CodeConflict {
		t.Fatalf("want 409, got http=%d code=%d", w.Code, body.StatusCode)
	}
	if body.RequestID != "req-1" || body.Msg != "order exists" {
		t.Fatalf("unexpected body: %+v", body)
	}

	w, _ = runHandler(t, func(c *gin.Context) { Error(c, 42, "odd") })
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("non-http code should map to 500, got %d", w.Code)
	}
}

func TestSuccessWithPage(t *testing.T) {
	w, body := runHandler(t, func(c *gin.Context) {
		SuccessWithPage(c, []string{"a"}, NewPagination(1, 20, 45))
	})
	if w.Code != http.StatusOK || body.Pagination == nil {
		t.Fatalf("expected pagination block, got %+v", body)
	}
	if body.Pagination.TotalPage != 3 || !body.Pagination.HasMore {
		t.Fatalf("unexpected pagination: %+v", body.Pagination)
	}
	if last := NewPagination(3, 20, 45); last.HasMore {
		t.Fatalf("last page should not have more")
	}
}

func TestAppErrorWrapsCause(t *testing.T) {
	cause := errors.New("db down")
	err := WrapError(CodeServiceUnavailable, "ledger unavailable", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("AppError should unwrap to cause")
	}
	if err.Error() != "ledger unavailable: db down" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
