// Package zarr persists normalized datasets as Zarr v2 groups.
//
// A group holds one coordinate array per dimension and a single data variable
// named after the source model, dimensioned (init_time, step, variable, y, x)
// or (init_time, step, variable, latitude, longitude). Metadata is written both
// per key and consolidated into .zmetadata so readers can open the store with
// one request.
//
// Encoding:
//
//	init_time  <i8  nanoseconds since 1970-01-01
//	step       <i8  nanoseconds
//	variable   <U{n} fixed width UTF-32
//	y, x       <f8
//	data       <f2  chunks (1, 1, nvariables, ny, nx), zstd level 5, fill NaN
//
// A store is either a directory ("*.zarr") or an uncompressed zip archive of
// the same keys ("*.zarr.zip"). Stores are written to a temporary sibling and
// renamed into place, so a store that exists is complete.
package zarr
