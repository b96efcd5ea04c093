package main

import "chatsync/cmd/chatsyncctl/cmd"

func main() {
	cmd.Execute()
}
