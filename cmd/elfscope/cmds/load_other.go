//go:build !linux && !darwin && !freebsd
// +build !linux,!darwin,!freebsd

package cmds

import "io/ioutil"

func loadFile(path string) ([]byte, error) {
	return ioutil.ReadFile(path)
}
