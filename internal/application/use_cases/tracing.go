package use_cases

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/yuzvak/seckill-service/internal/application/use_cases"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
