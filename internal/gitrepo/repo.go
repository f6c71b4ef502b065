package gitrepo

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var readmeNames = []string{"README.md", "README.rst", "README.txt", "README"}

// skipDirs are directory names never descended into when walking a repository.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"vendor":       true,
	"venv":         true,
	".venv":        true,
}

// ReadmeContent returns the repository's README text, trying the usual
// filenames in order. Returns "" when none exists.
func ReadmeContent(repoPath string) string {
	for _, name := range readmeNames {
		data, err := os.ReadFile(filepath.Join(repoPath, name))
		if err == nil {
			return string(data)
		}
	}
	return ""
}

// FileTree returns the repository's file paths relative to repoPath, skipping
// dot-directories and dependency directories, down to maxDepth levels.
func FileTree(repoPath string, maxDepth int) []string {
	var files []string
	_ = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if skipDirs[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if maxDepth > 0 && strings.Count(rel, string(filepath.Separator))+1 >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})
	return files
}

// SkipDir reports whether a directory name should be excluded from
// repository walks.
func SkipDir(name string) bool {
	return skipDirs[name] || strings.HasPrefix(name, ".")
}
