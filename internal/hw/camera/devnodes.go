package camera

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// videoNodes matches the V4L2 device nodes checked after a failed acquisition.
var videoNodes = "/dev/video*"

// deniedVideoNodes returns an error wrapping fs.ErrPermission when video
// device nodes exist and every one of them refuses to open for lack of
// permission. It returns nil otherwise.
func deniedVideoNodes() error {
	nodes, err := filepath.Glob(videoNodes)
	if err != nil || len(nodes) == 0 {
		return nil
	}
	for _, node := range nodes {
		f, err := os.OpenFile(node, os.O_RDWR, 0)
		if err == nil {
			f.Close()
			return nil
		}
		if !errors.Is(err, fs.ErrPermission) {
			return nil
		}
	}
	return &fs.PathError{Op: "open", Path: nodes[0], Err: fs.ErrPermission}
}
