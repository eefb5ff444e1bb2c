// Package timeouts defines shared timeout constants used across the stage
// services so transport and generation boundaries agree on their limits.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// Generation caps one full AI generation, including every tool step.
const Generation = 90 * time.Second

// ProviderRequest caps a single upstream model or image request.
const ProviderRequest = 45 * time.Second

// Background caps fire-and-forget work such as archiving and critique.
const Background = 2 * time.Minute

// Storage caps one durable read or write issued by a scene actor.
const Storage = 3 * time.Second

// WebsocketWrite caps a single frame write to a connection.
const WebsocketWrite = 5 * time.Second

// HealthCheck caps a -healthcheck run against the gRPC health endpoint.
const HealthCheck = 5 * time.Second
