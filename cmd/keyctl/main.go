package main

import (
	"fmt"
	"os"

	"keyguard/backend/cmd/keyctl/cli"
)

// 构建时通过 -ldflags 设置
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
