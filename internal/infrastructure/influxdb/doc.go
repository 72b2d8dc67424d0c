// Package influxdb provides InfluxDB connectivity for Ostiary Core.
//
// It wraps the official influxdb-client-go v2 library with Ostiary-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Movement events (occupations, releases, cancellations)
//   - Door sensor transitions (lock and door state)
//   - Hardware dispatch outcomes
//
// The external reporting system reads these measurements; Core only writes.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "ostiary",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record a movement
//	client.WriteMovement("door-a-012", "cab-block-a", "OCCUPY", 3)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This keeps the occupation path free of synchronous network calls.
package influxdb
