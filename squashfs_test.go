package squashfs_test

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/KarpelesLab/sqfsgo"
)

func buildTestImage(t *testing.T, testFS fstest.MapFS, opts ...squashfs.WriterOption) *squashfs.Superblock {
	t.Helper()

	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf, opts...)
	if err != nil {
		t.Fatalf("NewWriter failed: %s", err)
	}
	w.SetSourceFS(testFS)
	if err := fs.WalkDir(testFS, ".", w.Add); err != nil {
		t.Fatalf("WalkDir failed: %s", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %s", err)
	}

	sqfs, err := squashfs.New(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("failed to read back image: %s", err)
	}
	return sqfs
}

func TestSquashfsRoundTrip(t *testing.T) {
	testFS := fstest.MapFS{
		"pkgconfig/zlib.pc": {Data: []byte("prefix=/usr\nName: zlib\n")},
		"lib/libz.a":        {Data: bytes.Repeat([]byte{0xAB}, 4096)},
		"lib/libz.so":       {Data: []byte("shared object stub")},
		"include/zlib.h":    {Data: bytes.Repeat([]byte("/* zlib.h */\n"), 100)},
	}

	sqfs := buildTestImage(t, testFS)

	data, err := fs.ReadFile(sqfs, "pkgconfig/zlib.pc")
	if err != nil {
		t.Errorf("failed to read pkgconfig/zlib.pc: %s", err)
	} else if string(data) != "prefix=/usr\nName: zlib\n" {
		t.Errorf("unexpected content for pkgconfig/zlib.pc: %q", data)
	}

	ino, err := sqfs.FindInode("lib/libz.a", false)
	if err != nil {
		t.Errorf("failed to find lib/libz.a: %s", err)
	} else if ino.Size != 4096 {
		t.Errorf("unexpected size for lib/libz.a: %d", ino.Size)
	}

	res, err := fs.Glob(sqfs, "lib/*.so")
	if err != nil {
		t.Errorf("failed to glob lib/*.so: %s", err)
	} else if len(res) != 1 || res[0] != "lib/libz.so" {
		t.Errorf("bad response for glob lib/*.so: %v", res)
	}

	st, err := fs.Stat(sqfs, "lib")
	if err != nil {
		t.Errorf("failed to stat lib: %s", err)
	} else if !st.IsDir() {
		t.Errorf("stat(lib) did not return a directory")
	}

	_, err = fs.ReadFile(sqfs, "pkgconfig/zlib.pc/foo")
	if !errors.Is(err, squashfs.ErrNotDirectory) {
		t.Errorf("readfile pkgconfig/zlib.pc/foo returned unexpected err=%s", err)
	}
}

func TestSquashfsTooManySymlinks(t *testing.T) {
	testFS := fstest.MapFS{
		"loop": {Data: []byte("loop"), Mode: fs.ModeSymlink | 0777},
	}
	sqfs := buildTestImage(t, testFS)

	_, err := sqfs.FindInode("loop", true)
	if !errors.Is(err, squashfs.ErrTooManySymlinks) {
		t.Errorf("expected ErrTooManySymlinks resolving a self-referencing symlink, got %s", err)
	}
}

func TestSquashfsBigDirectory(t *testing.T) {
	testFS := make(fstest.MapFS)
	for i := 0; i < 2000; i++ {
		name := fmt.Sprintf("%05d.txt", i)
		testFS["bigdir/"+name] = &fstest.MapFile{Data: []byte{}}
	}

	sqfs := buildTestImage(t, testFS)

	data, err := fs.ReadFile(sqfs, "bigdir/01999.txt")
	if err != nil {
		t.Errorf("failed to read last file in big directory: %s", err)
	} else if len(data) != 0 {
		t.Errorf("expected empty file, got %d bytes", len(data))
	}

	_, err = fs.ReadFile(sqfs, "bigdir/99999.txt")
	if err == nil {
		t.Errorf("expected error reading nonexistent file in big directory")
	}
}
