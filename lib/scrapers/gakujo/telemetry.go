package gakujo

import (
	"gakujo-backend/lib/restyutil"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/gakujo")
var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput routes raw request/response dumps of every
// portal exchange to the given output. Debug aid, normally nil.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
