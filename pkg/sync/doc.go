// ABOUTME: Stream synchronization package
// ABOUTME: Aligns a consumer's read cursor with a producer's write cursor
// Package sync keeps two independently clocked audio streams aligned around a
// time-indexed ring buffer.
//
// A Synchronizer turns each consumer tick into the sample time the consumer
// should fetch, seeds its offset from both sides' latencies, corrects it on
// first contact and nudges it whenever a fetch misses the valid window.
// A RateEstimator derives a clock-rate scalar for hosts that do not report one.
//
// Example:
//
//	s := sync.NewSynchronizer(rb, varispeed, inLatency, outLatency, sync.DefaultConfig(), logger)
//	s.OnStreamsRestarted()
//
//	// Producer callback
//	s.OnProducerTick(inTime, inRate)
//
//	// Consumer callback
//	if readTime, ok := s.OnConsumerTick(outTime, outRate); ok {
//	    status := rb.Fetch(buffers, frames, readTime)
//	    s.OnFetchResult(status, readTime, frames)
//	}
package sync
