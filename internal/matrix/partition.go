package matrix

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidPartitionError reports a partition selector outside
// [1, total] or a total below 1.
type InvalidPartitionError struct {
	Index int
	Total int
}

func (e *InvalidPartitionError) Error() string {
	return fmt.Sprintf("invalid partition %d/%d: index must be in [1, total] and total >= 1", e.Index, e.Total)
}

// Partition returns the jobs assigned to shard index out of total.
// Assignment is round-robin over the resolver's stable order - job k
// (0-based) goes to shard (k mod total) + 1 - so expensive jobs of the
// same kind spread evenly across shards instead of clustering.
func Partition(jobs []Job, index, total int) ([]Job, error) {
	if total < 1 || index < 1 || index > total {
		return nil, &InvalidPartitionError{Index: index, Total: total}
	}

	var shard []Job
	for k, job := range jobs {
		if k%total+1 == index {
			shard = append(shard, job)
		}
	}
	return shard, nil
}

// ParsePartition parses an "i/n" selector like "2/4".
func ParsePartition(s string) (index, total int, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid partition %q: expected i/n, e.g. 2/4", s)
	}
	index, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid partition index %q: %w", parts[0], err)
	}
	total, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid partition total %q: %w", parts[1], err)
	}
	return index, total, nil
}
