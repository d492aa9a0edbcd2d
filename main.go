package main

import "github.com/analog-wakatime/Anolog-WakaTme-Plugin/cmd"

func main() {
	cmd.Execute()
}
