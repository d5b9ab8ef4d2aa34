//go:build !linux

package supervisor

import "os"

func newPipe(parentReads bool) (child, parent *os.File, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	if parentReads {
		return w, r, nil
	}
	return r, w, nil
}
