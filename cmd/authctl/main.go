package main

import "github.com/pribylovaa/go-auth-session/cmd/authctl/cmd"

func main() {
	cmd.Execute()
}
