package main

import "github.com/asaidimu/go-anansi-schema/cmd"

func main() {
	cmd.Execute()
}
