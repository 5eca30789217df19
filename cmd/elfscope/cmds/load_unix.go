//go:build linux || darwin || freebsd
// +build linux darwin freebsd

package cmds

import (
	"io/ioutil"
	"os"

	sys "golang.org/x/sys/unix"
)

// loadFile maps the file read-only. The engine never writes through
// the buffer, so a shared mapping is safe and avoids copying large
// binaries. Anything that cannot be mapped (pipes, /proc files, empty
// files) is read instead.
func loadFile(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() || fi.Size() == 0 {
		return ioutil.ReadAll(fh)
	}

	buf, err := sys.Mmap(int(fh.Fd()), 0, int(fi.Size()), sys.PROT_READ, sys.MAP_SHARED)
	if err != nil {
		return ioutil.ReadAll(fh)
	}
	return buf, nil
}
