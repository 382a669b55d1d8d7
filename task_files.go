package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// fileTransfer backs both copy and move; move is a copy that deletes its
// source.
type fileTransfer struct {
	name         string
	deleteSource bool
	sources      []string
	toFile       string
	toDir        string
	overwrite    bool
	location     Location
}

func fileTransferTaskBuilder(name string, deleteSource bool) *TaskBuilder {
	return &TaskBuilder{
		Name:  name,
		Attrs: []string{"file", "tofile", "todir", "overwrite"},
		Build: func(ctx *TaskContext) (Task, error) {
			t := &fileTransfer{name: name, deleteSource: deleteSource, location: ctx.Element.Location}
			pattern, err := ctx.Attrs.Required("file")
			if err != nil {
				return nil, err
			}
			if t.overwrite, err = ctx.Attrs.Bool("overwrite", false); err != nil {
				return nil, err
			}
			t.toFile = ctx.Project.ResolvePath(ctx.Attrs.String("tofile", ""))
			t.toDir = ctx.Project.ResolvePath(ctx.Attrs.String("todir", ""))
			if (t.toFile == "") == (t.toDir == "") {
				return nil, NewBuildFailure(t.location, "<%s> needs exactly one of 'tofile' or 'todir'", name)
			}

			if t.sources, err = globPaths(ctx.Project.ResolvePath(pattern), false); err != nil {
				return nil, WrapBuildFailure(t.location, err, "<%s> bad pattern '%s'", name, pattern)
			}
			if len(t.sources) == 0 {
				return nil, NewBuildFailure(t.location, "<%s> no files match '%s'", name, pattern)
			}
			if t.toFile != "" && len(t.sources) > 1 {
				return nil, NewBuildFailure(t.location, "<%s> '%s' matches %d files but 'tofile' names one", name, pattern, len(t.sources))
			}
			return t, nil
		},
	}
}

func (t *fileTransfer) Execute(p *Project) error {
	for _, src := range t.sources {
		dst := t.toFile
		if dst == "" {
			dst = filepath.Join(t.toDir, filepath.Base(src))
		}
		if !t.overwrite && upToDate(src, dst) {
			p.logTask(slog.LevelDebug, t.name, "up to date: "+dst)
			continue
		}
		if err := t.transfer(src, dst); err != nil {
			return WrapBuildFailure(t.location, err, "cannot %s '%s' to '%s'", t.name, src, dst)
		}
		p.logTask(slog.LevelInfo, t.name, src+" -> "+dst)
	}
	return nil
}

func (t *fileTransfer) transfer(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if t.deleteSource {
		if err := os.Rename(src, dst); err == nil {
			return nil
		}
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if t.deleteSource {
		return os.Remove(src)
	}
	return nil
}

// upToDate reports whether dst exists and is no older than src.
func upToDate(src, dst string) bool {
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	di, err := os.Stat(dst)
	if err != nil {
		return false
	}
	return !di.ModTime().Before(si.ModTime())
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

var deleteTaskBuilder = &TaskBuilder{
	Name:  "delete",
	Attrs: []string{"file", "dir"},
	Build: func(ctx *TaskContext) (Task, error) {
		file := ctx.Attrs.String("file", "")
		dir := ctx.Attrs.String("dir", "")
		if (file == "") == (dir == "") {
			return nil, NewBuildFailure(ctx.Element.Location, "<delete> needs exactly one of 'file' or 'dir'")
		}
		loc := ctx.Element.Location
		return TaskFunc(func(p *Project) error {
			var err error
			target := p.ResolvePath(file)
			if dir != "" {
				target = p.ResolvePath(dir)
				err = os.RemoveAll(target)
			} else {
				err = os.Remove(target)
			}
			if errors.Is(err, fs.ErrNotExist) {
				p.logTask(slog.LevelDebug, "delete", "nothing to delete at "+target)
				return nil
			}
			if err != nil {
				return WrapBuildFailure(loc, err, "cannot delete '%s'", target)
			}
			p.logTask(slog.LevelInfo, "delete", target)
			return nil
		}), nil
	},
}

var mkdirTaskBuilder = &TaskBuilder{
	Name:  "mkdir",
	Attrs: []string{"dir"},
	Build: func(ctx *TaskContext) (Task, error) {
		dir, err := ctx.Attrs.Required("dir")
		if err != nil {
			return nil, err
		}
		loc := ctx.Element.Location
		return TaskFunc(func(p *Project) error {
			path := p.ResolvePath(dir)
			if err := os.MkdirAll(path, 0o755); err != nil {
				return WrapBuildFailure(loc, err, "cannot create '%s'", path)
			}
			return nil
		}), nil
	},
}
