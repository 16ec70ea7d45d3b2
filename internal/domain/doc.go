// Package domain models Numerical Weather Prediction (NWP) model output as it
// moves through the consumer: remote files grouped by init time, and the
// normalized labeled arrays they are parsed into.
//
// # Init Times
//
// Every model run is identified by the UTC timestamp it was initialized from
// (minute precision). The init time is the partition key for both stores:
//
//	raw store:  {rawdir}/2006/01/02/1504/{filename}
//	zarr store: {zarrdir}/200601021504.zarr[.zip]
//
// Sources publish runs at a fixed cadence (6h for UKV, ICON-EU and GFS, 1h for
// Met Office orders). [InitTimes] enumerates the runs in a half-open range,
// aligned to cadence boundaries counted from UTC midnight.
//
// # Normalized Datasets
//
// A [Dataset] is a dense float32 array with dimensions
//
//	(init_time, step, variable, y, x)          projected grids (UKV)
//	(init_time, step, variable, latitude, longitude)  regular lat/lon grids
//
// stored row-major in a single slice. Variables use the short-name vocabulary
// in [Parameter], so the same meteorological quantity has the same label
// whichever source produced it.
//
// One dataset is built per downloaded file by [DatasetFromFields]. The files of
// one init time are then combined by [Merge] along the step and variable axes.
// Merging requires exact agreement on the init time and grid coordinates; any
// drift is reported as [ErrDimensionMismatch] rather than coerced. Output order
// is ascending step, then canonical parameter order, independent of the order
// files were downloaded or listed in.
//
// # Precision
//
// Values are held as float32 in memory and downcast to IEEE 754 half precision
// when persisted (see package zarr), which keeps roughly three significant
// decimal digits.
package domain
