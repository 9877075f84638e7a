package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// safeName reduces a peer supplied name to a single path element.
func safeName(name string) (string, error) {
	name = strings.TrimSpace(filepath.Base(filepath.Clean("/" + name)))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return name, nil
}

// persist writes data under dir. An existing file is never replaced; the new
// one gets a " (N)" suffix instead.
func persist(dir, name string, data []byte) (string, error) {
	name, err := safeName(name)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(dir, name)

	_, err = os.Stat(filePath)
	if err == nil {
		ext := filepath.Ext(name)
		nameWithoutExt := name[:len(name)-len(ext)]

		var c int
		c, err = countSameFileNamePrefix(dir, nameWithoutExt, ext)
		if err != nil {
			return "", err
		}

		for {
			c++
			filePath = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", nameWithoutExt, c, ext))
			if _, err := os.Stat(filePath); os.IsNotExist(err) {
				break
			}
		}
	}

	tmp, err := os.CreateTemp(dir, ".teleport-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}

	return filePath, nil
}

func countSameFileNamePrefix(dir, prefix, ext string) (int, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("%s ([0-9]*)%s", escapeGlob(prefix), escapeGlob(ext)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
