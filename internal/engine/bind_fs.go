// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
	"lmb.256lights.llc/pkg/internal/bufseek"
)

const fileHandleTypeName = "lmb.file"

type handleKind int

const (
	kindReading handleKind = iota
	kindWriting
	kindReadWrite
)

// fileHandle is an open file owned by the script that opened it. It is
// closed on explicit close or at evaluation end. Reads go through a
// buffered seek-aware reader so the cursor stays coherent across mixed
// read/seek/write sequences.
type fileHandle struct {
	f      *os.File
	path   string
	mode   string
	kind   handleKind
	closed bool

	// appendOnly mirrors the POSIX a+ mode: every write lands at the end
	// regardless of the cursor.
	appendOnly bool

	seeker io.Seeker
	reader *lmb.Reader     // nil on write-only handles
	writer io.StringWriter // nil on read-only handles
}

func (fh *fileHandle) close() error {
	fh.closed = true
	fh.reader = nil
	return fh.f.Close()
}

// cursor returns the logical read/write position: the stream position
// minus any pushed-back byte.
func (fh *fileHandle) cursor() (int64, error) {
	pos, err := fh.seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if fh.reader != nil {
		pos -= int64(fh.reader.Buffered())
	}
	return pos, nil
}

// prepareWrite rewinds past any pushed-back byte so the write happens at
// the logical cursor (or at the end for append handles).
func (fh *fileHandle) prepareWrite() error {
	if fh.reader != nil && fh.reader.Buffered() > 0 {
		if _, err := fh.seeker.Seek(-int64(fh.reader.Buffered()), io.SeekCurrent); err != nil {
			return err
		}
		fh.reader.Reset()
	}
	if fh.appendOnly && fh.kind == kindReadWrite {
		if _, err := fh.seeker.Seek(0, io.SeekEnd); err != nil {
			return err
		}
		if fh.reader != nil {
			fh.reader.Reset()
		}
	}
	return nil
}

// checkPath enforces the filesystem allow-list. A nil list allows
// everything; an empty one denies everything.
func (inst *instance) checkPath(path string) error {
	if inst.opts.AllowedFSRoots == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return lmb.WrapError(lmb.KindFSIO, err)
	}
	for _, root := range inst.opts.AllowedFSRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return nil
		}
	}
	return lmb.NewError(lmb.KindFSIO, "permission_denied: %s", path)
}

// newFSModule builds @lmb/fs: io-alike file handles with explicit mode
// state plus high-level helpers.
func (inst *instance) newFSModule(L *lua.LState) lua.LValue {
	mt := L.NewTypeMetatable(fileHandleTypeName)
	mt.RawSetString("__index", L.NewFunction(fileHandleIndex))

	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"open":       inst.fsOpen,
		"type":       fsType,
		"stat":       inst.fsStat,
		"exists":     inst.fsExists,
		"remove":     inst.fsRemove,
		"mkdir":      inst.fsMkdir,
		"readdir":    inst.fsReaddir,
		"list":       inst.fsReaddir,
		"read_file":  inst.fsReadFile,
		"write_file": inst.fsWriteFile,
		"lines":      inst.fsLines,
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(withSelfSkipped(mod, fn)))
	}
	return mod
}

// withSelfSkipped tolerates the fs:open(...) colon spelling by removing a
// leading module-table argument.
func withSelfSkipped(mod *lua.LTable, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if L.GetTop() >= 1 && L.Get(1) == mod {
			L.Remove(1)
		}
		return fn(L)
	}
}

var openModes = map[string]handleKind{
	"r":  kindReading,
	"w":  kindWriting,
	"a":  kindWriting,
	"r+": kindReadWrite,
	"w+": kindReadWrite,
	"a+": kindReadWrite,
}

// fsOpen opens path in the given mode. Unlike the other operations, I/O
// failures are reported as (nil, message) so scripts can branch on them.
func (inst *instance) fsOpen(L *lua.LState) int {
	path := L.CheckString(1)
	mode := "r"
	if L.GetTop() >= 2 {
		mode = L.CheckString(2)
	}
	kind, ok := openModes[mode]
	if !ok {
		raiseKind(L, lmb.KindFSIO, "invalid mode %q", mode)
		return 0
	}
	if err := inst.checkPath(path); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	var flag int
	switch mode {
	case "r":
		flag = os.O_RDONLY
	case "w":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case "a":
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case "r+":
		flag = os.O_RDWR
	case "w+":
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case "a+":
		// Appending is emulated per write so the buffered cursor stays
		// trustworthy for reads.
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o666)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	fh := &fileHandle{
		f:          f,
		path:       path,
		mode:       mode,
		kind:       kind,
		appendOnly: mode == "a" || mode == "a+",
	}
	switch kind {
	case kindReading:
		br := bufseek.NewReader(f)
		fh.seeker = br
		fh.reader = lmb.NewReader(br)
	case kindWriting:
		fh.seeker = f
		fh.writer = f
	case kindReadWrite:
		rw := bufseek.NewReadWriter(f)
		fh.seeker = rw
		fh.reader = lmb.NewReader(rw)
		fh.writer = rw
	}
	inst.files = append(inst.files, fh)

	ud := L.NewUserData()
	ud.Value = fh
	L.SetMetatable(ud, L.GetTypeMetatable(fileHandleTypeName))
	L.Push(ud)
	return 1
}

// fsType reports "file", "closed file", or nil for non-handles.
func fsType(L *lua.LState) int {
	ud, ok := L.Get(1).(*lua.LUserData)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	fh, ok := ud.Value.(*fileHandle)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	if fh.closed {
		L.Push(lua.LString("closed file"))
		return 1
	}
	L.Push(lua.LString("file"))
	return 1
}

func checkFileHandle(L *lua.LState) *fileHandle {
	ud := L.CheckUserData(1)
	fh, ok := ud.Value.(*fileHandle)
	if !ok {
		L.ArgError(1, "expected a file handle")
		return nil
	}
	return fh
}

func checkOpenFileHandle(L *lua.LState) *fileHandle {
	fh := checkFileHandle(L)
	if fh.closed {
		raiseKind(L, lmb.KindClosedFile, "%s", fh.path)
		return nil
	}
	return fh
}

func fileHandleIndex(L *lua.LState) int {
	method := L.CheckString(2)
	fn, ok := fileHandleMethods[method]
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(L.NewFunction(fn))
	return 1
}

var fileHandleMethods map[string]lua.LGFunction

func init() {
	fileHandleMethods = map[string]lua.LGFunction{
		"read":  fileRead,
		"write": fileWrite,
		"seek":  fileSeek,
		"flush": fileFlush,
		"close": fileClose,
		"lines": fileLines,
	}
}

func fileRead(L *lua.LState) int {
	fh := checkOpenFileHandle(L)
	if fh.reader == nil {
		raiseKind(L, lmb.KindWrongMode, "file %s is write-only", fh.path)
		return 0
	}
	sel := L.Get(2)
	if sel == lua.LNil {
		sel = lua.LString("*l")
	}
	return readSelector(L, fh.reader, sel)
}

func fileWrite(L *lua.LState) int {
	fh := checkOpenFileHandle(L)
	if fh.writer == nil {
		raiseKind(L, lmb.KindWrongMode, "file %s is read-only", fh.path)
		return 0
	}
	arg := L.Get(2)
	var data string
	switch v := arg.(type) {
	case lua.LString:
		data = string(v)
	case lua.LNumber:
		data = v.String()
	default:
		raiseKind(L, lmb.KindBadWriteArg, "cannot write a %s", arg.Type().String())
		return 0
	}
	if err := fh.prepareWrite(); err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	n, err := fh.writer.WriteString(data)
	if err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	L.Push(lua.LNumber(n))
	return 1
}

func fileSeek(L *lua.LState) int {
	fh := checkOpenFileHandle(L)
	whence := "cur"
	if L.GetTop() >= 2 {
		whence = L.CheckString(2)
	}
	var offset int64
	if L.GetTop() >= 3 {
		offset = int64(L.CheckNumber(3))
	}
	var w int
	switch whence {
	case "set":
		w = io.SeekStart
	case "cur":
		w = io.SeekCurrent
	case "end":
		w = io.SeekEnd
	default:
		raiseKind(L, lmb.KindBadSeek, "invalid whence %q", whence)
		return 0
	}
	if w == io.SeekCurrent {
		// The pushback byte shifts the logical cursor behind the stream
		// position.
		cur, err := fh.cursor()
		if err != nil {
			raiseKind(L, lmb.KindFSIO, "%v", err)
			return 0
		}
		w = io.SeekStart
		offset += cur
	}
	pos, err := fh.seeker.Seek(offset, w)
	if err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	if fh.reader != nil {
		fh.reader.Reset()
	}
	L.Push(lua.LNumber(pos))
	return 1
}

func fileFlush(L *lua.LState) int {
	fh := checkOpenFileHandle(L)
	if err := fh.f.Sync(); err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	return 0
}

func fileClose(L *lua.LState) int {
	fh := checkFileHandle(L)
	if fh.closed {
		raiseKind(L, lmb.KindClosedFile, "%s already closed", fh.path)
		return 0
	}
	if err := fh.close(); err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	return 0
}

// fileLines returns an iterator yielding '*l' reads until EOF. It closes
// nothing implicitly.
func fileLines(L *lua.LState) int {
	fh := checkOpenFileHandle(L)
	if fh.reader == nil {
		raiseKind(L, lmb.KindWrongMode, "file %s is write-only", fh.path)
		return 0
	}
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if fh.closed {
			raiseKind(L, lmb.KindClosedFile, "%s", fh.path)
			return 0
		}
		line, ok, err := fh.reader.ReadLine()
		return pushRead(L, line, ok, err)
	}))
	return 1
}

func (inst *instance) fsStat(L *lua.LState) int {
	path := L.CheckString(1)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	tbl := L.NewTable()
	tbl.RawSetString("size", lua.LNumber(info.Size()))
	tbl.RawSetString("is_file", lua.LBool(info.Mode().IsRegular()))
	tbl.RawSetString("is_dir", lua.LBool(info.IsDir()))
	tbl.RawSetString("modified", lua.LNumber(info.ModTime().Unix()))
	L.Push(tbl)
	return 1
}

func (inst *instance) fsExists(L *lua.LState) int {
	path := L.CheckString(1)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	_, err := os.Stat(path)
	L.Push(lua.LBool(err == nil))
	return 1
}

func (inst *instance) fsRemove(L *lua.LState) int {
	path := L.CheckString(1)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	if err := os.Remove(path); err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	return 0
}

func (inst *instance) fsMkdir(L *lua.LState) int {
	path := L.CheckString(1)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	if err := os.Mkdir(path, 0o777); err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	return 0
}

func (inst *instance) fsReaddir(L *lua.LState) int {
	path := L.CheckString(1)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	tbl := L.NewTable()
	for _, entry := range entries {
		tbl.Append(lua.LString(entry.Name()))
	}
	L.Push(tbl)
	return 1
}

func (inst *instance) fsReadFile(L *lua.LState) int {
	path := L.CheckString(1)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

func (inst *instance) fsWriteFile(L *lua.LState) int {
	path := L.CheckString(1)
	data := L.CheckString(2)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	if err := os.WriteFile(path, []byte(data), 0o666); err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	L.Push(lua.LNumber(len(data)))
	return 1
}

// fsLines opens path read-only and returns a line iterator over it. The
// handle participates in end-of-evaluation cleanup like any other.
func (inst *instance) fsLines(L *lua.LState) int {
	path := L.CheckString(1)
	if err := inst.checkPath(path); err != nil {
		raiseError(L, err)
		return 0
	}
	f, err := os.Open(path)
	if err != nil {
		raiseKind(L, lmb.KindFSIO, "%v", err)
		return 0
	}
	br := bufseek.NewReader(f)
	fh := &fileHandle{f: f, path: path, mode: "r", kind: kindReading, seeker: br, reader: lmb.NewReader(br)}
	inst.files = append(inst.files, fh)
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if fh.closed {
			L.Push(lua.LNil)
			return 1
		}
		line, ok, err := fh.reader.ReadLine()
		if err == nil && !ok {
			fh.close()
		}
		return pushRead(L, line, ok, err)
	}))
	return 1
}
