// Package blob is the entry point to the sample sheet source. Callers depend
// on the Store interface; concrete backends live under internal/infra/blob.
package blob

import (
	"runmgr/internal/blob/core"
)

type (
	// Driver identifies a backend driver.
	Driver = core.Driver
	// PutOptions configures a write.
	PutOptions = core.PutOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is the interface for sample sheet backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local directory driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound reports a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrExists reports a Put over an existing key.
	ErrExists = core.ErrExists
)
