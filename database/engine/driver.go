// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Driver defines a structure for backend drivers to use when they register
// themselves as a backend which implements the Engine interface.
type Driver struct {
	// DbType is the identifier used to uniquely identify a specific
	// backend.  It must be unique amongst all drivers.
	DbType string

	// Create creates a new engine at path.  It must fail when the path
	// already holds a database.
	Create func(path string) (Engine, error)

	// Open opens the engine at path, creating it when missing.
	Open func(path string) (Engine, error)
}

var (
	driversMtx sync.RWMutex
	drivers    = make(map[string]*Driver)
)

// RegisterDriver adds a backend driver to the available engines.  It returns
// an error if a driver with the same type is already registered.
func RegisterDriver(driver Driver) error {
	driversMtx.Lock()
	defer driversMtx.Unlock()

	if _, exists := drivers[driver.DbType]; exists {
		return fmt.Errorf("driver %q is already registered",
			driver.DbType)
	}
	drivers[driver.DbType] = &driver
	return nil
}

// lookup returns the driver for dbType.
func lookup(dbType string) (*Driver, error) {
	driversMtx.RLock()
	defer driversMtx.RUnlock()

	drv, exists := drivers[dbType]
	if !exists {
		return nil, fmt.Errorf("driver %q is not registered", dbType)
	}
	return drv, nil
}

// Create initializes a new engine of the given type at path.
func Create(dbType, path string) (Engine, error) {
	drv, err := lookup(dbType)
	if err != nil {
		return nil, err
	}
	return drv.Create(path)
}

// Open opens the engine of the given type at path.
func Open(dbType, path string) (Engine, error) {
	drv, err := lookup(dbType)
	if err != nil {
		return nil, err
	}
	return drv.Open(path)
}

// SupportedDrivers returns the registered driver types, sorted.
func SupportedDrivers() []string {
	driversMtx.RLock()
	defer driversMtx.RUnlock()

	types := make([]string, 0, len(drivers))
	for dbType := range drivers {
		types = append(types, dbType)
	}
	sort.Strings(types)
	return types
}
