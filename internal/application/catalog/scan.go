package catalog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/doeshing/pcpilot/internal/domain"
)

// rootResult is what one root walk produced.
type rootResult struct {
	root      string
	found     []domain.TargetEntry
	skipped   []string
	causes    []error
	cancelled bool
}

// scanRoot walks root down to maxDepth. Unreadable branches are skipped and
// reported; the walk stops early when ctx is done.
func scanRoot(ctx context.Context, root string, maxDepth int, includeFiles bool) rootResult {
	res := rootResult{root: root}
	info, err := os.Stat(root)
	if err != nil {
		res.skipped = append(res.skipped, root)
		res.causes = append(res.causes, err)
		return res
	}
	if !info.IsDir() {
		res.skipped = append(res.skipped, root)
		res.causes = append(res.causes, fmt.Errorf("%s: not a directory", root))
		return res
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			res.skipped = append(res.skipped, path)
			res.causes = append(res.causes, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		depth := depthOf(root, path)
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		entry, ok, descend := classify(path, d, includeFiles)
		if ok {
			entry.Root = root
			entry.Source = domain.TargetScanned
			res.found = append(res.found, entry)
		}
		if d.IsDir() && (!descend || depth >= maxDepth) {
			return fs.SkipDir
		}
		return nil
	})
	switch {
	case walkErr == nil:
	case errors.Is(walkErr, context.Canceled), errors.Is(walkErr, context.DeadlineExceeded):
		res.cancelled = true
	default:
		res.skipped = append(res.skipped, root)
		res.causes = append(res.causes, walkErr)
	}
	return res
}

func depthOf(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// classify decides whether a path is a target. descend is false for bundles
// that must not be walked into.
func classify(path string, d fs.DirEntry, includeFiles bool) (domain.TargetEntry, bool, bool) {
	name := d.Name()
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))

	if d.IsDir() {
		if ext == ".app" {
			return appEntry(base, path, nil), true, false
		}
		if includeFiles {
			return domain.TargetEntry{CanonicalName: name, Path: path, Kind: domain.KindFolder}, true, true
		}
		return domain.TargetEntry{}, false, true
	}

	switch ext {
	case ".desktop":
		if entry, ok := desktopEntry(path); ok {
			return entry, true, false
		}
		return domain.TargetEntry{}, false, false
	case ".exe", ".lnk":
		return appEntry(base, path, nil), true, false
	}

	if info, err := d.Info(); err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 && ext == "" {
		return appEntry(name, path, nil), true, false
	}
	if includeFiles {
		entry := domain.TargetEntry{CanonicalName: name, Path: path, Kind: domain.KindFile}
		entry.MergeAliases(base)
		return entry, true, false
	}
	return domain.TargetEntry{}, false, false
}

func appEntry(name, path string, extra []string) domain.TargetEntry {
	entry := domain.TargetEntry{CanonicalName: name, Path: path, Kind: domain.KindApplication}
	entry.MergeAliases(append([]string{name}, extra...)...)
	return entry
}

// desktopEntry reads Name= and Exec= from a freedesktop launcher.
func desktopEntry(path string) (domain.TargetEntry, bool) {
	f, err := os.Open(path)
	if err != nil {
		return domain.TargetEntry{}, false
	}
	defer f.Close()

	var name, exec string
	hidden := false
	inMain := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inMain = line == "[Desktop Entry]"
			continue
		}
		if !inMain {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "Name":
			name = value
		case "Exec":
			exec = value
		case "NoDisplay", "Hidden":
			hidden = hidden || strings.EqualFold(value, "true")
		}
	}
	if name == "" || hidden {
		return domain.TargetEntry{}, false
	}

	var extra []string
	command := execArgs(exec)
	if len(command) > 0 {
		extra = append(extra, filepath.Base(command[0]))
	}
	base := strings.TrimSuffix(filepath.Base(path), ".desktop")
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[i+1:]
	}
	extra = append(extra, base)
	entry := appEntry(name, path, extra)
	entry.Command = command
	return entry, true
}

// execArgs splits an Exec= line and drops its %f/%U style field codes.
func execArgs(exec string) []string {
	var out []string
	for _, f := range strings.Fields(exec) {
		if len(f) == 2 && f[0] == '%' {
			continue
		}
		out = append(out, strings.Trim(f, `"`))
	}
	return out
}
