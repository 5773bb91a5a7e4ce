package journal

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ScanDir walks an agent data directory and discovers all journal files
// under projects/. Unreadable entries are skipped rather than failing
// the scan.
func ScanDir(dataDir string) ([]File, error) {
	projectsDir := filepath.Join(dataDir, "projects")

	info, err := os.Stat(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []File

	err = filepath.WalkDir(projectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}

		rel, _ := filepath.Rel(projectsDir, path)
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) < 2 {
			return nil
		}

		jf := File{
			Path:       path,
			ProjectDir: parts[0],
			Project:    decodeProjectName(parts[0]),
		}
		if fi, statErr := d.Info(); statErr == nil {
			jf.SizeBytes = fi.Size()
		}

		name := d.Name()
		// Subagent journals live at <project>/<session>/subagents/agent-<id>.jsonl.
		if len(parts) >= 4 && parts[2] == "subagents" {
			jf.IsSubagent = true
			jf.ParentSession = parts[1]
			jf.SessionID = parts[1] + "/" + strings.TrimSuffix(name, ".jsonl")
		} else {
			jf.SessionID = strings.TrimSuffix(name, ".jsonl")
		}

		files = append(files, jf)
		return nil
	})

	return files, err
}

// decodeProjectName extracts a display name from the encoded directory
// name. Journal directories encode absolute paths by replacing "/" with
// "-", so "-home-dev-projects-my-app" becomes "my-app". The last known
// parent marker wins; otherwise the last non-empty segment.
func decodeProjectName(dirName string) string {
	parts := strings.Split(dirName, "-")

	knownParents := map[string]bool{
		"projects": true, "repos": true, "src": true,
		"code": true, "workspace": true, "dev": true,
	}

	for i := len(parts) - 2; i >= 0; i-- {
		if knownParents[strings.ToLower(parts[i])] {
			if name := strings.Join(parts[i+1:], "-"); name != "" {
				return name
			}
		}
	}

	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}

	return dirName
}
