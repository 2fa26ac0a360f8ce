package simpleasset

import (
	"context"

	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// SequenceResult is the outcome of one folder scan.
type SequenceResult struct {
	// Next is the number to use: max matched + 1, or 1.
	Next int
	// Matched counts names that carried a sequence for the pattern.
	Matched int
	// Scanned counts names listed in the folder.
	Scanned int
	// ListingErr is set when the folder could not be listed; Next is then 1.
	ListingErr error
}

// Degraded reports whether the scan fell back to treating the folder as empty.
func (r SequenceResult) Degraded() bool {
	return r.ListingErr != nil
}

// SequenceResolver picks the next free sequence number for a name pattern in a folder.
// The scan is a plain read: it holds no lock and reserves nothing.
type SequenceResolver struct {
	store ObjectStore
}

// NewSequenceResolver creates a resolver listing folders through store.
func NewSequenceResolver(store ObjectStore) *SequenceResolver {
	return &SequenceResolver{store: store}
}

// Next lists folder and returns max + 1 over names matching spec's fixed fields.
// It never fails: listing errors and invalid specs degrade to 1 and are reported
// through ListingErr for the caller to log.
func (r *SequenceResolver) Next(ctx context.Context, folder string, spec objectkey.FilenameSpec) SequenceResult {
	matcher, err := objectkey.NewSequenceMatcher(spec)
	if err != nil {
		return SequenceResult{Next: 1, ListingErr: err}
	}

	names, err := r.store.List(ctx, folder)
	if err != nil {
		return SequenceResult{Next: 1, ListingErr: err}
	}

	result := SequenceResult{Scanned: len(names)}
	highest := 0
	for _, name := range names {
		n, ok := matcher.Extract(name)
		if !ok {
			continue
		}
		result.Matched++
		if n > highest {
			highest = n
		}
	}
	result.Next = highest + 1
	return result
}
