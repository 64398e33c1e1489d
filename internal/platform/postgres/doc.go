// Package postgres provides PostgreSQL implementations of the store
// interfaces. It maps database errors to store sentinel errors and owns the
// SQL for the admission-controlled task claim.
package postgres
