package main

import "github.com/nguyentranbao-ct/omni-inbox/cmd"

func main() {
	cmd.Execute()
}
