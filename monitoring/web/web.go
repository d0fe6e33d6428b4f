// Package web holds the pages of the monitor dashboard.
package web

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DevEnv names the environment variable that, when true, serves the pages
// straight from the source tree so they can be edited without a rebuild.
const DevEnv = "PROCACCESS_MONITOR_DEV"

//go:embed dist/*
var dist embed.FS

// GetAssets returns the dashboard files.
func GetAssets() http.FileSystem {
	if dev, _ := strconv.ParseBool(os.Getenv(DevEnv)); dev {
		dir := sourceDir()
		log.Printf("Serving monitor pages from %s", dir)

		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		log.Panic(err)
	}

	return http.FS(sub)
}

func sourceDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		log.Panic("cannot locate the monitor pages")
	}

	return filepath.Join(filepath.Dir(file), "dist")
}
