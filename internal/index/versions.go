package index

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

const versionLayout = "20060102150405"

var versionPattern = regexp.MustCompile(`^(\d{14})(?:_(\d+))?$`)

type version struct {
	name  string
	stamp string
	seq   int
}

func parseVersion(name string) (version, bool) {
	m := versionPattern.FindStringSubmatch(name)
	if m == nil {
		return version{}, false
	}
	v := version{name: name, stamp: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return version{}, false
		}
		v.seq = n
	}
	return v, true
}

// Versions lists the valid version directories under base, oldest first.
// Directories without a segments marker are ignored.
func Versions(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ferrors.StorageError("cannot list index versions in "+base, err)
	}

	var vs []version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, ok := parseVersion(e.Name())
		if !ok || !engine.HasMarker(filepath.Join(base, e.Name())) {
			continue
		}
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].stamp != vs[j].stamp {
			return vs[i].stamp < vs[j].stamp
		}
		return vs[i].seq < vs[j].seq
	})

	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = filepath.Join(base, v.name)
	}
	return out, nil
}

// latestVersion returns the newest valid version directory, or "".
func latestVersion(base string) (string, error) {
	vs, err := Versions(base)
	if err != nil || len(vs) == 0 {
		return "", err
	}
	return vs[len(vs)-1], nil
}

// nextVersionDir picks an unused version directory name for now,
// suffixing _N on collision.
func nextVersionDir(base string, now time.Time) string {
	stamp := now.UTC().Format(versionLayout)
	dir := filepath.Join(base, stamp)
	for n := 1; exists(dir); n++ {
		dir = filepath.Join(base, stamp+"_"+strconv.Itoa(n))
	}
	return dir
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Prune removes old version directories under base, keeping the newest
// keep versions and never touching active. It returns the removed paths.
func Prune(base, active string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	vs, err := Versions(base)
	if err != nil {
		return nil, err
	}
	if len(vs) <= keep {
		return nil, nil
	}

	var removed []string
	for _, dir := range vs[:len(vs)-keep] {
		if dir == active {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, ferrors.StorageError("cannot remove index version "+dir, err)
		}
		removed = append(removed, dir)
	}
	return removed, nil
}
