/*
Package monitoring exports fuzzpriv's Prometheus metrics.

Metrics covers the control server's HTTP traffic, the command channel
(commands, cache lookups, quits, leak findings), harness rounds and the
websocket ports. It satisfies harness.Recorder and privileged.Metrics, so
the core packages report without importing Prometheus.

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
