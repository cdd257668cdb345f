package shockwave

// RecordBodyRejection is called by the http11 request-body reader whenever
// it signals a terminal rejection (bad framing, truncated chunk, invalid
// Content-Length, ...), tagged by the rejection error's message text. It is
// a no-op unless the prometheus build tag replaces it with a real counter
// increment (see buffer_pool_prometheus.go's init).
var RecordBodyRejection = func(reason string) {}
