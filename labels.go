package wagonocr

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// CTCBlank is the name of the CTC blank class at index 0 of a charset
const CTCBlank = "blank"

// LoadLabels reads labels from the given text file.  It should contain one
// label per line, surrounding white space is trimmed.
func LoadLabels(file string) ([]string, error) {

	lines, err := readLines(file)

	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(lines))

	for _, line := range lines {
		labels = append(labels, strings.TrimSpace(line))
	}

	return labels, nil
}

// LoadCharset reads a recogniser character list with one character per
// line.  Empty lines are skipped, a line holding a single space is kept as
// the space character.  The CTC blank is inserted at index 0 when the file
// does not start with it.
func LoadCharset(file string) ([]string, error) {

	lines, err := readLines(file)

	if err != nil {
		return nil, err
	}

	charset := []string{CTCBlank}

	for i, line := range lines {
		if line == "" || (i == 0 && strings.TrimSpace(line) == CTCBlank) {
			continue
		}

		if line != " " {
			line = strings.TrimSpace(line)
		}

		if line == "" {
			continue
		}

		charset = append(charset, line)
	}

	if len(charset) < 2 {
		return nil, fmt.Errorf("charset %s has no characters", file)
	}

	return charset, nil
}

// readLines returns the lines of file without line endings
func readLines(file string) ([]string, error) {

	// open the file
	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	// create a scanner to read the file.
	scanner := bufio.NewScanner(f)

	var lines []string

	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}

	// check for errors during scanning
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return lines, nil
}
