package tracing

import (
	"github.com/gin-gonic/gin"
)

// Middleware traces each request. Callers may continue an existing trace by
// sending X-Trace-ID (and optionally X-Span-ID); the ids of the request's own
// span are echoed back in the response headers.
func Middleware(t *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithRemote(c.Request.Context(), c.GetHeader(HeaderTraceID), c.GetHeader(HeaderSpanID))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := t.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.host", c.Request.Host)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, span.TraceID)
		c.Header(HeaderSpanID, span.SpanID)

		c.Next()

		span.Status = c.Writer.Status()
		if len(c.Errors) > 0 {
			span.Err = c.Errors.Last()
		}
		span.Finish()
		t.Submit(span)
	}
}
