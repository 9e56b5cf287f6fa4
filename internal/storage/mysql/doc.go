// Package mysql provides repositories and data access helpers backed by MySQL.
// It encapsulates schema migrations, connection pooling, and strongly typed
// queries for persisting the disbursement audit trail. A JSON-lines backed
// in-memory variant covers development and demo deployments.
package mysql
