package main

import "github.com/skiff-cd/skiff/cmd/root"

func main() {
	root.Execute()
}
