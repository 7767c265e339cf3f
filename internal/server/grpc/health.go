package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger reports store reachability. It is implemented by *store.Connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WatchStore polls p every interval and reflects the result on hs for both the
// overall server and AuthService. It returns when ctx is done.
func WatchStore(ctx context.Context, hs *health.Server, p Pinger, every time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, every)
		err := p.Ping(pctx)
		cancel()

		next := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			next = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if next != last {
			if err != nil {
				log.Warn("store unhealthy", zap.Error(err))
			} else {
				log.Info("store healthy")
			}
			last = next
		}
		hs.SetServingStatus("", next)
		hs.SetServingStatus(ServiceName, next)
	}

	check()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
