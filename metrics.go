package awfel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awfel_bytes_downloaded",
		Help: "The total number of bytes sent to the device",
	})

	bytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awfel_bytes_uploaded",
		Help: "The total number of bytes read back from the device",
	})

	commandsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awfel_commands_issued",
		Help: "The total number of logical FEL/FES commands issued",
	})

	commandFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awfel_command_failures",
		Help: "The total number of commands closed with a non-zero state",
	})

	strayEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awfel_stray_envelopes",
		Help: "Number of out-of-sync envelopes discarded by resynchronization",
	})

	chunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "awfel_chunk_transfer_time",
		Help:    "Time spent moving a single chunk across the bulk pipe",
		Buckets: prometheus.DefBuckets,
	})
)
