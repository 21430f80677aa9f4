// Package domain models ERA5 reanalysis data as it moves through the
// extraction, join, and sort stages of the pipeline.
//
// # Data Source
//
// Raw inputs are monthly gridded bundles produced by the acquisition service
// from ECMWF ERA5 GRIB files. Each bundle holds one calendar month of hourly
// data for one or more named variables (ECMWF short names such as "2t", "10u",
// "cape") over a regular latitude/longitude grid.
//
// # Processing Units
//
// All work is tracked at (year, month) granularity. A [UnitKey] identifies
// one unit and a [UnitState] records how far it has progressed through the
// pipeline. Only the orchestrator mutates unit state; the stage components
// report results and never touch bookkeeping.
//
// # Column Mapping
//
// Flat per-variable tables carry four roles: time, latitude, longitude, and
// value. The literal column names vary between GRIB products ("time" vs
// "valid_time", "latitude" vs "lat"), so each variable gets a [ColumnMapping]
// resolved either from the schema [Registry] of known variables or by the
// generic detector. A variable whose four roles cannot all be resolved is
// excluded from joins rather than guessed into a wrong role.
package domain
