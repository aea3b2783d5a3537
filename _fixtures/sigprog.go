package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGUSR1)
	f, err := os.Create(os.Args[1])
	if err != nil {
		os.Exit(1)
	}
	f.WriteString("ready\n")
	<-c
	f.WriteString("usr1\n")
	f.Close()
	time.Sleep(time.Hour)
}
