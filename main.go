package main

import "github.com/jdtrading/mt5-copier/cmd"

func main() {
	cmd.Execute()
}
