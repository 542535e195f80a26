package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/xspressctl/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("bridge", "GET", "/api/xspress/*path", 200, 12*time.Millisecond)
	RecordRPC("tcp://127.0.0.1:12000", "configure", "ack", 3*time.Millisecond)
	RecordDroppedReply("tcp://127.0.0.1:12000", "uncorrelated")
	RecordPoll("read_config", false)

	if got := testutil.ToFloat64(rpcDropped.WithLabelValues("tcp://127.0.0.1:12000", "uncorrelated")); got < 1 {
		t.Fatalf("dropped counter not recorded: %v", got)
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	logger := testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetricsMiddleware("mw-test"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "/x", "418")); got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}
