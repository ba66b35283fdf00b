package main

import "github.com/eth0jp/go-dbcluster/cmd/dbcluster/cmd"

func main() {
	cmd.Execute()
}
