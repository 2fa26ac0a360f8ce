// Package simpleasset names, places and derives image assets stored in a flat
// object store organised by folder prefixes.
//
// The Pipeline is the entry point. It fetches a source asset by its public
// reference, applies one transform (rotate, convert or upscale), places the
// result next to the source, names it with a per-folder sequence number and
// records descriptive metadata copied from the source.
//
// Placement
//
// Derivatives are co-located with their source whenever the source's stored
// path can be determined, either from its metadata record or by reversing its
// public reference. Only when neither is possible does the pipeline fall back to
// the dated ai-generated staging folder. Every fallback is reported as a typed
// value on the Result.
//
// Naming
//
// File names follow objectkey.Compose:
//
//	{location}-{subject}-{tool}-{function}-{YYYYMMDD}-{NN}.{ext}
//
// The sequence number is the folder's current maximum plus one. Stores reject
// uploads to an existing key, so a concurrent run that picks the same number
// fails with an UploadConflict instead of overwriting.
//
// Metadata
//
// Caption fields, tags, GPS and capture time are copied from the source record.
// Structural fields (path, size, format, dimensions) always come from the new
// file. A metadata failure after a successful upload is logged and reported on
// the Result but never fails the run.
package simpleasset
