package pipeline

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

// ErrStructuralDefect marks a run whose processing hit an internal
// inconsistency, such as a feature table that no longer lines up with the
// run's time index. The run's report is discarded.
var ErrStructuralDefect = errors.New("structural defect")

// RunError is a failure of a single run.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %q: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// structural wraps err with ErrStructuralDefect when it reports a broken
// table invariant.
func structural(err error) error {
	if errors.Is(err, runtable.ErrTimeIndexMismatch) ||
		errors.Is(err, runtable.ErrDuplicateColumn) ||
		errors.Is(err, runtable.ErrLengthMismatch) ||
		errors.Is(err, report.ErrUnorderedTimes) {
		return fmt.Errorf("%w: %w", ErrStructuralDefect, err)
	}

	return err
}
