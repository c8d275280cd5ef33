// Package module defines the analytics module contract and the registry
// that routes a module name to its implementation.
//
// Modules are registered explicitly at startup:
//
//	reg := module.NewRegistry()
//	reg.Register(oee.NewAvailability(deps))
//	reg.Register(programs.New(deps))
//
// A module answers one parsed query with a JSON-serialisable payload, or nil
// when the request is valid but resolves to no data.
package module
