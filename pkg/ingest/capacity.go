package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// expansionFactor estimates in-memory size of the wide, featured tables
// relative to the long-format input on disk.
const expansionFactor = 8

// CheckMemory warns when the input at path is unlikely to fit in available
// memory once expanded. Everything is processed in memory, so this only
// warns; it never blocks a run.
func CheckMemory(ctx context.Context, log logrus.FieldLogger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.WithError(err).Debug("Unable to read available memory")

		return nil
	}

	size := uint64(info.Size()) //nolint:gosec // file sizes are non-negative

	fields := logrus.Fields{
		"input_size":       units.HumanSize(float64(size)),
		"available_memory": units.HumanSize(float64(vm.Available)),
	}

	if exceedsMemory(size, vm.Available) {
		log.WithFields(fields).Warn("Input may not fit in available memory")

		return nil
	}

	log.WithFields(fields).Debug("Memory headroom ok")

	return nil
}

func exceedsMemory(inputSize, available uint64) bool {
	return inputSize*expansionFactor > available
}
