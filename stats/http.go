package stats

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/ais-kv/kvd/cmn/nlog"
)

// VerboseStatus is the auxiliary structured view served from /healthz?verbose=1.
// It is never part of the client wire protocol (which stays RESP-like
// framing end to end) — purely a monitoring/debugging side channel.
type VerboseStatus struct {
	Role           string `json:"role"`
	ReplID         string `json:"master_replid"`
	MasterOffset   int64  `json:"master_repl_offset"`
	ReplicasActive int    `json:"replicas_active"`
}

// StatusFunc produces the current VerboseStatus; cmd/kvd supplies one
// closing over its replic.Controller and cmn.Config.
type StatusFunc func() VerboseStatus

// ServeHTTP starts a tiny fasthttp listener exposing /metrics (Prometheus
// exposition format) and /healthz (plain "ok", or a JSON VerboseStatus body
// when called as /healthz?verbose=1 and a StatusFunc was supplied). It runs
// until the process exits; callers typically launch it in its own goroutine
// from cmd/kvd.
func ServeHTTP(addr string, status StatusFunc) error {
	promHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	handler := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/metrics":
			promHandler(ctx)
		case "/healthz":
			if status != nil && len(ctx.QueryArgs().Peek("verbose")) > 0 {
				b, err := jsoniter.Marshal(status())
				if err != nil {
					ctx.SetStatusCode(fasthttp.StatusInternalServerError)
					return
				}
				ctx.SetContentType("application/json")
				ctx.SetBody(b)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("ok")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	nlog.Infof("stats: listening on %s (/metrics, /healthz)", addr)
	return fasthttp.ListenAndServe(addr, handler)
}
