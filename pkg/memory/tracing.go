package memory

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/theapemachine/nire/pkg/memory")
