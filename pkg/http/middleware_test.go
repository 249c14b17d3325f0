package xhttp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newCtx(method, path string) *RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	return ctx
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(func(ctx *RequestCtx) { seen = RequestID(ctx) })

	t.Run("propagates caller id", func(t *testing.T) {
		ctx := newCtx("GET", "/x")
		ctx.Request.Header.Set(HeaderRequestID, "abc")
		h(ctx)
		assert.Equal(t, "abc", seen)
		assert.Equal(t, "abc", string(ctx.Response.Header.Peek(HeaderRequestID)))
	})

	t.Run("assigns one", func(t *testing.T) {
		ctx := newCtx("GET", "/x")
		h(ctx)
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, string(ctx.Response.Header.Peek(HeaderRequestID)))
	})
}

func TestRecoverMiddleware(t *testing.T) {
	ctx := newCtx("GET", "/boom")
	RecoverMiddleware(func(*RequestCtx) { panic("boom") })(ctx)

	assert.Equal(t, StatusInternalServerError, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"error"`)
}

func TestMetricsMiddleware(t *testing.T) {
	type observed struct {
		method, route string
		status        int
	}
	var got []observed
	observe := func(method, route string, status int, _ time.Duration) {
		got = append(got, observed{method, route, status})
	}

	r := CreateDefaultRouter()
	r.GET("/sms/{id}", func(ctx *RequestCtx) { WriteJSON(ctx, StatusOK, map[string]string{"id": ctx.UserValue("id").(string)}) })
	h := MetricsMiddleware(observe)(r.Handler)

	h(newCtx("GET", "/sms/req-1"))
	h(newCtx("GET", "/nowhere"))

	require.Len(t, got, 2)
	assert.Equal(t, observed{"GET", "/sms/{id}", StatusOK}, got[0])
	assert.Equal(t, observed{"GET", "unmatched", StatusNotFound}, got[1])
}

func TestEngine_MiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next RequestHandler) RequestHandler {
			return func(ctx *RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}

	e := CreateServer()
	e.GET("/ping", func(ctx *RequestCtx) { order = append(order, "handler") })
	e.Use(mark("outer"))
	e.Use(mark("inner"))
	e.DoRouting()

	e.Server.Handler(newCtx("GET", "/ping"))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
