// Package ledger defines the domain model of the relief disbursement
// ledger: disaster events emitted by the weather oracle, registered party
// profiles, eligibility decisions produced by the rules contract, and the
// Gateway interface that concrete chain clients implement. It also registers
// the domain error codes used across the processing pipelines.
package ledger
