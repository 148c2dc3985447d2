// Command fslint runs the fslint analyzer outside golangci-lint.
//
//	go run ./tools/fslint/cmd/fslint ./...
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/bolasblack/settingsync/tools/fslint"
)

func main() {
	singlechecker.Main(fslint.Analyzer)
}
