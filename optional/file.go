package optional

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/atom/vm"
)

// FileClassName is the global the File module registers.
const FileClassName = "File"

const errPathArg = "A path parameter of type String is required."

// fileHandle is the XData of an open File instance. Reads go through r;
// writes and seeks first give back whatever r buffered ahead.
type fileHandle struct {
	f   *os.File
	r   *bufio.Reader
	eof bool
	err error
}

// RegisterFile defines the File class. Static methods work on paths;
// File.open returns an instance wrapping an open file, closed by close
// or when the instance is collected.
func RegisterFile(v *vm.VM) *vm.Class {
	c := v.NewClass(FileClassName, nil, 0, 0)
	meta := c.Meta()

	v.BindMethod(meta, "size", fileSize)
	v.BindMethod(meta, "exists", fileExists)
	v.BindMethod(meta, "delete", fileDelete)
	v.BindMethod(meta, "read", fileRead)
	v.BindMethod(meta, "write", fileWrite)
	v.BindMethod(meta, "buildpath", fileBuildPath)
	v.BindMethod(meta, "is_directory", fileIsDirectory)
	v.BindMethod(meta, "directory_create", fileDirectoryCreate)
	v.BindMethod(meta, "directory_scan", fileDirectoryScan)
	v.BindMethod(meta, "open", func(v *vm.VM, args []vm.Value, dest uint32) bool {
		return fileOpen(v, c, args, dest)
	})

	v.BindMethod(c, "read", handleRead)
	v.BindMethod(c, "write", handleWrite)
	v.BindMethod(c, "seek", handleSeek)
	v.BindMethod(c, "eof", handleEOF)
	v.BindMethod(c, "error", handleError)
	v.BindMethod(c, "flush", handleFlush)
	v.BindMethod(c, "close", handleClose)
	v.BindMethod(c, "deinit", func(v *vm.VM, args []vm.Value, dest uint32) bool {
		if h := handleOf(args[0]); h != nil {
			h.f.Close()
			args[0].AsInstance().XData = nil
		}
		return v.ReturnNull(dest)
	})

	v.RegisterClass(c)
	return c
}

// pathArg returns args[i] as a path.
func pathArg(args []vm.Value, i int) (string, bool) {
	p := arg(args, i)
	if !p.IsString() {
		return "", false
	}
	return p.Str(), true
}

// ---------------------------------------------------------------------------
// Static methods
// ---------------------------------------------------------------------------

// fileSize is -1 for a missing file.
func fileSize(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return v.Return(dest, vm.FromInt(-1))
	}
	return v.Return(dest, vm.FromInt(fi.Size()))
}

func fileExists(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	_, err := os.Stat(path)
	return v.Return(dest, vm.FromBool(err == nil))
}

func fileDelete(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	return v.Return(dest, vm.FromBool(os.Remove(path) == nil))
}

// fileRead returns the whole file, or Null when it cannot be read.
func fileRead(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return v.ReturnNull(dest)
	}
	return v.Return(dest, v.StringValue(string(data)))
}

func fileWrite(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	data := arg(args, 2)
	if !ok || !data.IsString() {
		return v.Errorf("A path parameter of type String and a String parameter are required.")
	}
	err := os.WriteFile(path, []byte(data.Str()), 0o644)
	return v.Return(dest, vm.FromBool(err == nil))
}

// fileBuildPath joins a file name onto a directory.
func fileBuildPath(v *vm.VM, args []vm.Value, dest uint32) bool {
	file, dir := arg(args, 1), arg(args, 2)
	if !file.IsString() || !dir.IsString() {
		return v.Errorf("A file and path parameters of type String are required.")
	}
	return v.Return(dest, v.StringValue(filepath.Join(dir.Str(), file.Str())))
}

func fileIsDirectory(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	fi, err := os.Stat(path)
	return v.Return(dest, vm.FromBool(err == nil && fi.IsDir()))
}

// fileDirectoryCreate creates the directory and any missing parents.
func fileDirectoryCreate(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	return v.Return(dest, vm.FromBool(os.MkdirAll(path, 0o755) == nil))
}

// fileDirectoryScan calls closure(name, fullpath, isdir) for every entry
// under path, descending into subdirectories when the optional second
// argument is true. The result is the number of entries visited.
func fileDirectoryScan(v *vm.VM, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	recursive := false
	cb := arg(args, 2)
	if cb.IsBool() {
		recursive = cb.Bool()
		cb = arg(args, 3)
	}
	closure := cb.AsClosure()
	if closure == nil {
		return v.Errorf("A closure parameter is required.")
	}

	var n int64
	failed := false
	walk := func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if full == path {
				return err
			}
			return nil
		}
		if full == path {
			return nil
		}
		n++
		isdir := d.IsDir()
		v.GCDisable()
		name, fullpath := v.StringValue(d.Name()), v.StringValue(full)
		v.GCEnable()
		if _, err := v.RunClosure(closure, vm.Null, name, fullpath, vm.FromBool(isdir)); err != nil {
			failed = true
			return err
		}
		if isdir && !recursive {
			return fs.SkipDir
		}
		return nil
	}
	if err := filepath.WalkDir(path, walk); err != nil && !failed {
		return v.Return(dest, vm.FromInt(0))
	}
	if failed {
		return false
	}
	return v.Return(dest, vm.FromInt(n))
}

// fileOpen takes an fopen style mode, "r" by default, and returns Null
// when the file cannot be opened.
func fileOpen(v *vm.VM, c *vm.Class, args []vm.Value, dest uint32) bool {
	path, ok := pathArg(args, 1)
	if !ok {
		return v.Errorf(errPathArg)
	}
	mode := "r"
	if m := arg(args, 2); m.IsString() {
		mode = m.Str()
	}
	flag, ok := openFlag(mode)
	if !ok {
		return v.Errorf("Unknown file mode %q.", mode)
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return v.ReturnNull(dest)
	}
	inst := v.NewInstance(c)
	inst.XData = &fileHandle{f: f, r: bufio.NewReader(f)}
	return v.Return(dest, vm.FromObject(inst))
}

// openFlag maps an fopen mode to os flags. A 'b' anywhere is ignored.
func openFlag(mode string) (int, bool) {
	switch strings.ReplaceAll(mode, "b", "") {
	case "r":
		return os.O_RDONLY, true
	case "w":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, true
	case "a":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, true
	case "r+":
		return os.O_RDWR, true
	case "w+":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, true
	case "a+":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Instance methods
// ---------------------------------------------------------------------------

func handleOf(self vm.Value) *fileHandle {
	inst := self.AsInstance()
	if inst == nil {
		return nil
	}
	h, _ := inst.XData.(*fileHandle)
	return h
}

// openHandle fails the call when self is not an open file.
func openHandle(v *vm.VM, args []vm.Value) (*fileHandle, bool) {
	h := handleOf(args[0])
	if h == nil {
		return nil, v.Errorf("File is not open.")
	}
	return h, true
}

// unread moves the file offset back over bytes r buffered but nobody read.
func (h *fileHandle) unread() error {
	if n := h.r.Buffered(); n > 0 {
		if _, err := h.f.Seek(-int64(n), io.SeekCurrent); err != nil {
			return err
		}
	}
	h.r.Reset(h.f)
	return nil
}

func (h *fileHandle) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		h.eof = true
		return
	}
	h.err = err
}

// handleRead reads n bytes for an Int argument, or up to and including
// the first byte of a String delimiter.
func handleRead(v *vm.VM, args []vm.Value, dest uint32) bool {
	h, ok := openHandle(v, args)
	if !ok {
		return false
	}
	a := arg(args, 1)
	switch {
	case a.IsInt():
		if a.Int() < 0 {
			return v.Errorf("Read size must not be negative.")
		}
		buf := make([]byte, a.Int())
		n, err := io.ReadFull(h.r, buf)
		if err != nil {
			h.fail(err)
		}
		return v.Return(dest, v.StringValue(string(buf[:n])))
	case a.IsString() && a.Str() != "":
		s, err := h.r.ReadString(a.Str()[0])
		if err != nil {
			h.fail(err)
		}
		return v.Return(dest, v.StringValue(s))
	}
	return v.Errorf("A parameter of type Int or String is required.")
}

// handleWrite returns 1 when the whole string was written and 0 otherwise.
func handleWrite(v *vm.VM, args []vm.Value, dest uint32) bool {
	h, ok := openHandle(v, args)
	if !ok {
		return false
	}
	data := arg(args, 1)
	if !data.IsString() {
		return v.Errorf("A parameter of type String is required.")
	}
	if err := h.unread(); err != nil {
		h.fail(err)
		return v.Return(dest, vm.FromInt(0))
	}
	if _, err := io.WriteString(h.f, data.Str()); err != nil {
		h.fail(err)
		return v.Return(dest, vm.FromInt(0))
	}
	return v.Return(dest, vm.FromInt(1))
}

// handleSeek takes an offset and a whence of 0, 1 or 2 (set, current,
// end) and returns 0 on success and -1 on failure.
func handleSeek(v *vm.VM, args []vm.Value, dest uint32) bool {
	h, ok := openHandle(v, args)
	if !ok {
		return false
	}
	off, whence := arg(args, 1), arg(args, 2)
	if !off.IsInt() || !whence.IsInt() {
		return v.Errorf("An offset and a whence parameter of type Int are required.")
	}
	if whence.Int() < 0 || whence.Int() > 2 {
		return v.Return(dest, vm.FromInt(-1))
	}
	if err := h.unread(); err != nil {
		h.fail(err)
		return v.Return(dest, vm.FromInt(-1))
	}
	if _, err := h.f.Seek(off.Int(), int(whence.Int())); err != nil {
		h.fail(err)
		return v.Return(dest, vm.FromInt(-1))
	}
	h.eof = false
	return v.Return(dest, vm.FromInt(0))
}

func handleEOF(v *vm.VM, args []vm.Value, dest uint32) bool {
	h, ok := openHandle(v, args)
	if !ok {
		return false
	}
	return v.Return(dest, vm.FromBool(h.eof))
}

// handleError is 1 once any read, write or seek has failed.
func handleError(v *vm.VM, args []vm.Value, dest uint32) bool {
	h, ok := openHandle(v, args)
	if !ok {
		return false
	}
	if h.err != nil {
		return v.Return(dest, vm.FromInt(1))
	}
	return v.Return(dest, vm.FromInt(0))
}

func handleFlush(v *vm.VM, args []vm.Value, dest uint32) bool {
	h, ok := openHandle(v, args)
	if !ok {
		return false
	}
	if err := h.f.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return v.Return(dest, vm.FromInt(-1))
	}
	return v.Return(dest, vm.FromInt(0))
}

// handleClose is false for a file that was already closed.
func handleClose(v *vm.VM, args []vm.Value, dest uint32) bool {
	h := handleOf(args[0])
	if h == nil {
		return v.Return(dest, vm.FromBool(false))
	}
	args[0].AsInstance().XData = nil
	return v.Return(dest, vm.FromBool(h.f.Close() == nil))
}
