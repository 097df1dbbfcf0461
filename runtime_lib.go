package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// resolveRuntimeLibrary locates the ONNX runtime shared library. An explicit
// ONNXRUNTIME_LIB_PATH wins; otherwise the platform-named library is expected
// next to the binary under lib/.
func resolveRuntimeLibrary() (string, error) {
	if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("ONNXRUNTIME_LIB_PATH: %w", err)
		}
		return path, nil
	}

	libName := "libonnxruntime.so.1.20.0"
	if runtime.GOOS == "darwin" {
		libName = "libonnxruntime.1.20.0.dylib"
	} else if runtime.GOOS == "windows" {
		libName = "onnxruntime.dll"
	}

	path := filepath.Join("lib", libName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("runtime library not found: %s", path)
	}
	return path, nil
}
