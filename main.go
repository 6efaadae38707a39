package main

import (
	"fmt"

	"github.com/pbspro/sched-ctl/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
