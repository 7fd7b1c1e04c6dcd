package main

import "github.com/thirdweb-dev/ledgersync/cmd"

func main() {
	cmd.Execute()
}
