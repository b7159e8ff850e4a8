// Command trinket はTrinket端末のアプリコアを起動する。
//
// 使い方:
//
//	trinket [serve|worker|migrate|check|seed <email>|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/trinket/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "trinket: %v\n", err)
		os.Exit(1)
	}
}
