package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/soyeahso/shopagent/internal/tools"
)

// sandbox confines file tools to one directory tree. Every access goes
// through an os.Root, so symlinks cannot lead outside it either.
type sandbox string

// resolve maps a user path to a name relative to the sandbox root.
// Cleaning the path as if it were absolute strips any leading "..".
func (s sandbox) resolve(p string) string {
	name := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	if name == "" {
		return "."
	}
	return name
}

// rel returns the display form of a resolved name.
func (s sandbox) rel(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + name
}

func (s sandbox) open() (*os.Root, error) {
	root, err := os.OpenRoot(string(s))
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	return root, nil
}

type fileEntry struct {
	Name  string `json:"name"`
	Dir   bool   `json:"dir"`
	Size  int64  `json:"size"`
	MTime string `json:"modified"`
}

func listFiles(sb sandbox) tools.Metadata {
	return tools.Metadata{
		Name:        ToolListFiles,
		Description: "List files in the shared workspace directory.",
		Category:    "files",
		Schema: tools.Schema{
			{Name: "path", Kind: tools.KindString, Description: "directory relative to the workspace root; defaults to the root"},
		},
		Execute: func(_ context.Context, args tools.Args) (tools.Result, error) {
			root, err := sb.open()
			if err != nil {
				return tools.Result{}, err
			}
			defer root.Close()

			dir := sb.resolve(args.String("path", ""))
			entries, err := fs.ReadDir(root.FS(), dir)
			if errors.Is(err, fs.ErrNotExist) {
				return tools.Fail("directory %s does not exist", sb.rel(dir)), nil
			}
			if err != nil {
				return tools.Result{}, fmt.Errorf("list %s: %w", sb.rel(dir), err)
			}

			out := make([]fileEntry, 0, len(entries))
			for _, e := range entries {
				info, err := e.Info()
				if err != nil {
					continue
				}
				out = append(out, fileEntry{
					Name:  e.Name(),
					Dir:   e.IsDir(),
					Size:  info.Size(),
					MTime: info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
				})
			}
			return tools.OK(map[string]any{"path": sb.rel(dir), "entries": out}), nil
		},
	}
}

func deleteFile(sb sandbox) tools.Metadata {
	return tools.Metadata{
		Name:                 ToolDeleteFile,
		Description:          "Delete a file from the shared workspace directory. Requires user confirmation.",
		Category:             "files",
		RequiresConfirmation: true,
		Schema: tools.Schema{
			{Name: "path", Kind: tools.KindString, Description: "file path relative to the workspace root", Required: true},
		},
		Execute: func(_ context.Context, args tools.Args) (tools.Result, error) {
			target := sb.resolve(args.String("path", ""))
			if target == "." {
				return tools.Fail("refusing to delete the workspace root"), nil
			}

			root, err := sb.open()
			if err != nil {
				return tools.Result{}, err
			}
			defer root.Close()

			info, err := root.Lstat(target)
			if errors.Is(err, fs.ErrNotExist) {
				return tools.Fail("file %s does not exist", sb.rel(target)), nil
			}
			if err != nil {
				return tools.Result{}, fmt.Errorf("stat %s: %w", sb.rel(target), err)
			}
			if info.IsDir() {
				return tools.Fail("%s is a directory; only files can be deleted", sb.rel(target)), nil
			}

			if err := root.Remove(target); err != nil {
				return tools.Result{}, fmt.Errorf("delete %s: %w", sb.rel(target), err)
			}
			return tools.OK(map[string]any{"deleted": sb.rel(target)}), nil
		},
	}
}
