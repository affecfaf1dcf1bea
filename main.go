package main

import "github.com/ValentinKolb/shadowvar/cmd"

func main() {
	cmd.Execute()
}
