package scan

import (
	"context"
	"regexp"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// TransformProcessor runs one transform through the pipeline for every object.
type TransformProcessor struct {
	Pipeline  *simpleasset.Pipeline
	Transform simpleasset.Transform

	// Results receives each stored derivative (optional).
	Results func(sourceKey string, result *simpleasset.Result)
}

func (p *TransformProcessor) Process(ctx context.Context, objectKey, publicRef string) error {
	result, err := p.Pipeline.Run(ctx, publicRef, p.Transform)
	if err != nil {
		return err
	}
	if p.Results != nil {
		p.Results(objectKey, result)
	}
	return nil
}

// composedName matches any name carrying the date and sequence suffix the
// pipeline gives its outputs.
var composedName = regexp.MustCompile(`-\d{8}-\d{2}\.[A-Za-z0-9]+$`)

// SkipDerived skips composed names, so a backfill only touches files that were
// uploaded outside the pipeline.
func SkipDerived(name string) bool {
	return composedName.MatchString(name)
}
