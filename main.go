package main

import "shardq/cmd"

func main() {
	cmd.Run()
}
