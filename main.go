package main

import "github.com/iCMLab/stranding/cmd"

func main() {
	cmd.Execute()
}
