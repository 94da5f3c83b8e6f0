// Package relayq is a small backend toolkit built around a shared Redis
// store. It bundles four pieces that are usually deployed together:
//
//   - a durable job pipeline (core, brokers, engines, pipeline) where a
//     video-processing job, once handled, enqueues exactly one notification
//     job on a rate limited queue
//   - a pub/sub relay (relay, state) that keeps a fixed-size boolean state
//     array in sync across server instances and their connected clients
//   - a fixed-window rate limiter (ratelimit) shared by every instance
//   - a response cache (cache) over an upstream books catalog (catalog)
//
// The server package exposes all of it over HTTP and a websocket, and
// cmd/relayq wires everything from configuration.
//
// # Example
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/BranchIntl/relayq/engines"
//		"github.com/BranchIntl/relayq/pipeline"
//	)
//
//	func main() {
//		options := engines.DefaultRedisOptions()
//		options.RedisURI = "redis://localhost:6379/"
//
//		engine := engines.NewRedisEngine(options)
//		p := pipeline.New(engine.Engine(), nil, pipeline.DefaultOptions())
//		if err := p.Register(engine); err != nil {
//			log.Fatal(err)
//		}
//
//		if err := engine.Run(context.Background()); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// Submitting a video enqueues a job named after its URL:
//
//	id, err := p.SubmitVideo(ctx, "https://example.com/a.mp4")
//
// # Testing
//
// The store/memory and brokers/memory packages implement the same contracts
// as their Redis counterparts in process, so components can be tested
// without a running server. store/storetest and brokers/brokertest hold the
// shared conformance suites.
package relayq
