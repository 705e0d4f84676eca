package main

import "github.com/bz888/kubechat/cmd"

func main() {
	cmd.Execute()
}
