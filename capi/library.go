package capi

import (
	"fmt"
	"os"
	"strings"

	"github.com/knights-analytics/gopaddle/util/fileutil"
)

// EnvInstallRoot names the environment variable holding the Paddle Inference C install root.
const EnvInstallRoot = "PADDLE_INFERENCE"

var (
	libraryDirs = []string{
		"paddle/lib",
		"third_party/install/onnxruntime/lib",
		"third_party/install/paddle2onnx/lib",
		"third_party/install/mkldnn/lib",
		"third_party/install/mklml/lib",
	}
	libraryNames = []string{
		"paddle_inference_c",
		"onnxruntime",
		"paddle2onnx",
		"dnnl",
		"iomp5",
	}
)

// Layout describes where the vendor's shared libraries live under an install root.
// It only reports paths; linking is left to CGO_CFLAGS / CGO_LDFLAGS.
type Layout struct {
	Root        string
	IncludeDir  string
	LibraryDirs []string
	Libraries   []string
	// Missing lists the library directories that do not exist under Root.
	Missing []string
}

// LibraryLayout inspects root, or the PADDLE_INFERENCE environment variable when root is empty.
func LibraryLayout(root string) (Layout, error) {
	if root == "" {
		root = os.Getenv(EnvInstallRoot)
	}
	if root == "" {
		return Layout{}, fmt.Errorf("no install root given and %s is not set", EnvInstallRoot)
	}
	exists, err := fileutil.FileExists(root)
	if err != nil {
		return Layout{}, fmt.Errorf("error checking install root %q: %w", root, err)
	}
	if !exists {
		return Layout{}, fmt.Errorf("install root %q does not exist", root)
	}

	layout := Layout{
		Root:       root,
		IncludeDir: fileutil.PathJoinSafe(root, "paddle", "include"),
		Libraries:  append([]string(nil), libraryNames...),
	}
	for _, dir := range libraryDirs {
		full := fileutil.PathJoinSafe(root, dir)
		layout.LibraryDirs = append(layout.LibraryDirs, full)
		ok, existsErr := fileutil.FileExists(full)
		if existsErr != nil {
			return Layout{}, fmt.Errorf("error checking library dir %q: %w", full, existsErr)
		}
		if !ok {
			layout.Missing = append(layout.Missing, full)
		}
	}
	return layout, nil
}

// CgoCFlags is the value to export as CGO_CFLAGS.
func (l Layout) CgoCFlags() string {
	return "-I" + l.IncludeDir
}

// CgoLDFlags is the value to export as CGO_LDFLAGS.
func (l Layout) CgoLDFlags() string {
	var flags []string
	for _, dir := range l.LibraryDirs {
		flags = append(flags, "-L"+dir, "-Wl,-rpath,"+dir)
	}
	for _, lib := range l.Libraries {
		flags = append(flags, "-l"+lib)
	}
	return strings.Join(flags, " ")
}

// LDLibraryPath prepends existing to the library directories, colon separated.
func (l Layout) LDLibraryPath(existing string) string {
	parts := make([]string, 0, len(l.LibraryDirs)+1)
	if existing != "" {
		parts = append(parts, existing)
	}
	parts = append(parts, l.LibraryDirs...)
	return strings.Join(parts, ":")
}
