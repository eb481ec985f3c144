package testutil

import (
	"os"
	"path/filepath"
)

// CleanDir makes sure the directory named by dirname exists and is empty, except for any
// directory entries named by keeps.
func CleanDir(dirname string, keeps ...string) error {
	entries, err := os.ReadDir(dirname)
	if os.IsNotExist(err) {
		return os.MkdirAll(dirname, 0755)
	} else if err != nil {
		return err
	}

	m := map[string]struct{}{}
	for _, k := range keeps {
		m[k] = struct{}{}
	}

	for _, ent := range entries {
		if _, found := m[ent.Name()]; found {
			continue
		}
		err = os.RemoveAll(filepath.Join(dirname, ent.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}
