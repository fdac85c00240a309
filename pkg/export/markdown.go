package export

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ethpandaops/runfeatures/pkg/fsutil"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

// MarkdownSink writes run_summary.md. Run tables are ignored.
type MarkdownSink struct {
	dir      string
	maxChars int
	owner    *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Sink = (*MarkdownSink)(nil)

// NewMarkdownSink creates a markdown summary sink.
func NewMarkdownSink(dir string, maxChars int, owner *fsutil.OwnerConfig) *MarkdownSink {
	return &MarkdownSink{dir: dir, maxChars: maxChars, owner: owner}
}

func (s *MarkdownSink) WriteRun(context.Context, *runtable.Table) error {
	return nil
}

func (s *MarkdownSink) WriteSummary(_ context.Context, sum *report.Summary) error {
	path := filepath.Join(s.dir, SummaryMarkdownName)

	md := report.GenerateMarkdown(sum, s.maxChars)
	if err := fsutil.WriteFileAtomic(path, []byte(md), filePerm, s.owner); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
