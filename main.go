package main

import "github.com/andresmejia3/memquiz/cmd"

func main() {
	cmd.Execute()
}
