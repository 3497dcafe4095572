package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

const diffHeader = "Local changes to tracked files, not staged"

type localChange struct {
	path string
	from *object.File
	to   *object.File
}

// Diff renders a unified diff between the index and the work tree for every
// modified tracked file. An empty string means nothing changed.
func (s *Store) Diff() (string, []tracker.FileSection, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return "", nil, err
	}
	var diffs []localChange
	for _, e := range idx.Entries {
		modified, err := s.worktreeModified(e)
		if err != nil {
			return "", nil, err
		}
		if !modified {
			continue
		}
		from, err := s.fileFromIndex(e)
		if err != nil {
			return "", nil, err
		}
		to, err := fileFromDisk(s.workTree, e.Name)
		if err != nil {
			return "", nil, err
		}
		diffs = append(diffs, localChange{path: e.Name, from: from, to: to})
	}
	if len(diffs) == 0 {
		return "", nil, nil
	}
	return renderLocalDiff(diffHeader+"\n", diffs)
}

func (s *Store) fileFromIndex(e *gitindex.Entry) (*object.File, error) {
	blob, err := object.GetBlob(s.repo.Storer, e.Hash)
	if err != nil {
		return nil, tracker.WrapStore("read blob "+e.Name, err)
	}
	return object.NewFile(e.Name, e.Mode, blob), nil
}

func fileFromDisk(root, path string) (*object.File, error) {
	fullPath := filepath.Join(root, filepath.FromSlash(path))
	info, err := os.Lstat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &tracker.PathError{Op: "diff", Path: fullPath, Err: err}
	}
	data, err := readContent(fullPath, info)
	if err != nil {
		return nil, &tracker.PathError{Op: "diff", Path: fullPath, Err: err}
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.BlobObject)
	if _, err := mem.Write(data); err != nil {
		return nil, err
	}
	blob, err := object.DecodeBlob(mem)
	if err != nil {
		return nil, err
	}
	mode := filemode.Regular
	if m, err := filemode.NewFromOSFileMode(info.Mode()); err == nil {
		mode = m
	}
	return object.NewFile(path, mode, blob), nil
}

func renderLocalDiff(header string, diffs []localChange) (string, []tracker.FileSection, error) {
	var b strings.Builder
	lineNo := 0
	if header != "" {
		if !strings.HasSuffix(header, "\n") {
			header += "\n"
		}
		b.WriteString(header)
		lineNo = strings.Count(header, "\n")
	}
	var sections []tracker.FileSection
	for _, diffItem := range diffs {
		if diffItem.path == "" {
			continue
		}
		fileHeader := fmt.Sprintf("diff --git a/%s b/%s\n", diffItem.path, diffItem.path)
		sections = append(sections, tracker.FileSection{Path: diffItem.path, Line: lineNo + 1})
		b.WriteString(fileHeader)
		lineNo += strings.Count(fileHeader, "\n")

		if diffItem.from != nil && diffItem.to != nil && diffItem.from.Mode != diffItem.to.Mode {
			modeLines := fmt.Sprintf("old mode %o\nnew mode %o\n", uint32(diffItem.from.Mode), uint32(diffItem.to.Mode))
			b.WriteString(modeLines)
			lineNo += 2
		}

		isBinary, err := binaryChange(diffItem)
		if err != nil {
			return "", nil, err
		}
		if isBinary {
			b.WriteString("(binary files differ)\n")
			lineNo++
			continue
		}

		fromLines, err := fileLines(diffItem.from)
		if err != nil {
			return "", nil, err
		}
		toLines, err := fileLines(diffItem.to)
		if err != nil {
			return "", nil, err
		}

		ud := difflib.UnifiedDiff{
			A:        fromLines,
			B:        toLines,
			FromFile: fmt.Sprintf("a/%s", diffItem.path),
			ToFile:   fmt.Sprintf("b/%s", diffItem.path),
			Context:  3,
		}
		diffText, err := difflib.GetUnifiedDiffString(ud)
		if err != nil {
			return "", nil, err
		}
		if diffText == "" {
			b.WriteString("(no textual changes)\n")
			lineNo++
			continue
		}
		b.WriteString(diffText)
		lineNo += strings.Count(diffText, "\n")
		if !strings.HasSuffix(diffText, "\n") {
			b.WriteString("\n")
			lineNo++
		}
	}
	return b.String(), sections, nil
}

func binaryChange(ch localChange) (bool, error) {
	for _, f := range []*object.File{ch.from, ch.to} {
		if f == nil {
			continue
		}
		bin, err := f.IsBinary()
		if err != nil {
			return false, err
		}
		if bin {
			return true, nil
		}
	}
	return false, nil
}

func fileLines(f *object.File) ([]string, error) {
	if f == nil {
		return []string{}, nil
	}
	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return difflib.SplitLines(content), nil
}
