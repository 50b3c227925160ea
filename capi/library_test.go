package capi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "paddle", "lib"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "third_party", "install", "mklml", "lib"), 0o755))

	layout, err := LibraryLayout(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "paddle", "include"), layout.IncludeDir)
	assert.Len(t, layout.LibraryDirs, 5)
	assert.Len(t, layout.Missing, 3)
	assert.NotContains(t, layout.Missing, filepath.Join(root, "paddle", "lib"))

	assert.Equal(t, "-I"+layout.IncludeDir, layout.CgoCFlags())
	ld := layout.CgoLDFlags()
	assert.True(t, strings.HasPrefix(ld, "-L"+filepath.Join(root, "paddle", "lib")+" -Wl,-rpath,"))
	assert.True(t, strings.HasSuffix(ld, "-lpaddle_inference_c -lonnxruntime -lpaddle2onnx -ldnnl -liomp5"))

	assert.True(t, strings.HasPrefix(layout.LDLibraryPath("/usr/lib"), "/usr/lib:"+filepath.Join(root, "paddle", "lib")))
	assert.Equal(t, 4, strings.Count(layout.LDLibraryPath(""), ":"))
}

func TestLibraryLayoutFromEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvInstallRoot, root)
	layout, err := LibraryLayout("")
	require.NoError(t, err)
	assert.Equal(t, root, layout.Root)
	assert.Len(t, layout.Missing, 5)
}

func TestLibraryLayoutErrors(t *testing.T) {
	t.Setenv(EnvInstallRoot, "")
	_, err := LibraryLayout("")
	assert.ErrorContains(t, err, EnvInstallRoot)

	_, err = LibraryLayout(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
