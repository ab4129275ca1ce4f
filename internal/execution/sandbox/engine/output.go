package engine

import (
	"io"
	"os"

	appErr "runbox/pkg/errors"
)

// capture backs a child's stdout and stderr with unlinked-on-close temp
// files so that descendants holding the descriptors never block Wait.
type capture struct {
	stdout *os.File
	stderr *os.File
	max    int64
}

func newCapture(max int64) (*capture, error) {
	stdout, err := os.CreateTemp("", "runbox-stdout-*")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EnvironmentIOFailed, "create stdout capture")
	}
	stderr, err := os.CreateTemp("", "runbox-stderr-*")
	if err != nil {
		removeFile(stdout)
		return nil, appErr.Wrapf(err, appErr.EnvironmentIOFailed, "create stderr capture")
	}
	return &capture{stdout: stdout, stderr: stderr, max: max}, nil
}

// collect reads back at most max bytes of each stream.
func (c *capture) collect() (stdout, stderr string, truncated bool) {
	out, outTrunc := readLimited(c.stdout, c.max)
	errOut, errTrunc := readLimited(c.stderr, c.max)
	return out, errOut, outTrunc || errTrunc
}

func (c *capture) close() {
	removeFile(c.stdout)
	removeFile(c.stderr)
}

func removeFile(f *os.File) {
	if f == nil {
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

func readLimited(f *os.File, max int64) (string, bool) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", false
	}
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return "", false
	}
	if int64(len(data)) > max {
		return string(data[:max]), true
	}
	return string(data), false
}

// openStdin opens the input file, or the null device when none is given.
func openStdin(path string) (*os.File, error) {
	if path == "" {
		path = os.DevNull
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EnvironmentIOFailed, "open stdin %s", path)
	}
	return f, nil
}
