/*
Package tracing provides lightweight request tracing across the HTTP and gRPC
surfaces of the application manager.

Trace context travels in the X-Trace-ID and X-Span-ID headers (lowercase keys
in gRPC metadata). Spans are queued to a buffered collector and logged with
zap when finished; a full buffer drops spans rather than blocking requests.

# Usage

	tracer := tracing.New("appmgrd", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
		grpc.ChainStreamInterceptor(tracing.GRPCStreamInterceptor(tracer)),
	)

	span, ctx := tracer.StartSpan(ctx, "reconcile")
	defer tracer.Finish(span)
*/
package tracing
