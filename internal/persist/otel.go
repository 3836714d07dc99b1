package persist

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/sio-stoke/stoke/internal/persist"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
