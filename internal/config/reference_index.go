package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadReferenceIndex reads reference names and lengths from a samtools faidx
// index (.fai). Only the first two columns are used.
func LoadReferenceIndex(path string) (map[string]int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference index: %w", err)
	}
	defer file.Close()

	lengths := make(map[string]int64)
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("reference index %s:%d: expected at least 2 columns", path, line)
		}
		length, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil || length <= 0 {
			return nil, fmt.Errorf("reference index %s:%d: invalid length %q", path, line, fields[1])
		}
		lengths[strings.TrimSpace(fields[0])] = length
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reference index: %w", err)
	}
	return lengths, nil
}
