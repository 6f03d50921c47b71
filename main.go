package main

import "serial-input-monitor/cmd"

func main() {
	cmd.Execute()
}
