// Package agent contains the core orchestrator of the relief disbursement
// service. It drives the block-range poller over the disaster oracle,
// evaluates party eligibility against the rules contract, executes idempotent
// payouts through the fund custodian, and narrates every processed batch.
package agent
