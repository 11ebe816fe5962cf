package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FindLogFile returns explicit when set, otherwise fallback, provided the
// file exists.
func FindLogFile(explicit, fallback string) (string, error) {
	path := explicit
	if path == "" {
		path = fallback
	}
	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return "", fmt.Errorf("no log file found at %s; has the server run in this environment?", path)
	}
	return path, nil
}

// RotatedFiles returns path's rotated siblings and path itself, oldest
// first.
func RotatedFiles(path string) []string {
	matches, _ := filepath.Glob(path + ".*")

	type rotated struct {
		path string
		num  int
	}
	var files []rotated
	for _, m := range matches {
		num, err := strconv.Atoi(strings.TrimPrefix(m, path+"."))
		if err != nil {
			continue
		}
		files = append(files, rotated{path: m, num: num})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].num > files[j].num })

	out := make([]string, 0, len(files)+1)
	for _, f := range files {
		out = append(out, f.path)
	}
	if _, err := os.Stat(path); err == nil {
		out = append(out, path)
	}
	return out
}
