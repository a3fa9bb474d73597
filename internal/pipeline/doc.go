// Package pipeline wires the site frontiers of a harvest run together.
//
// Every accepted page flows through a Pipeline of steps: the intel step
// fills in IOCs and the threat classification, then the sink step hands
// the finished record to every configured output. The Orchestrator runs
// one frontier per seed with a bounded number of workers, shares a
// CircuitManager between them and reports progress on an EventBus.
package pipeline
