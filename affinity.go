package wagonocr

import (
	"fmt"
	"strconv"
	"strings"
)

// CPUCoreMask calculates the core mask by passing in the CPU core numbers as a
// slice, eg: []int{4,5,6,7}
func CPUCoreMask(cores []int) uintptr {

	var mask uintptr

	for _, core := range cores {
		mask |= 1 << core
	}

	return mask
}

// maxCores is the number of cores a single word mask can address
const maxCores = strconv.IntSize

// ParseCPUList parses a Linux style core list such as "0-3,6" into core
// numbers
func ParseCPUList(list string) ([]int, error) {

	var cores []int

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)

		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")

		start, err := strconv.Atoi(strings.TrimSpace(lo))

		if err != nil {
			return nil, fmt.Errorf("invalid cpu %q: %w", part, err)
		}

		end := start

		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))

			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q: %w", part, err)
			}
		}

		if start < 0 || end < start || end >= maxCores {
			return nil, fmt.Errorf("invalid cpu range %q", part)
		}

		for c := start; c <= end; c++ {
			cores = append(cores, c)
		}
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("empty cpu list")
	}

	return cores, nil
}
