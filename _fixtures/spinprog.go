package main

import (
	"fmt"
	"os"
	"runtime"
	"time"
	"unsafe"
)

var counter uint64

func spin() {
	runtime.LockOSThread()
	for {
		counter++
		if counter%1000 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func main() {
	if len(os.Args) > 1 {
		os.WriteFile(os.Args[1], []byte(fmt.Sprintf("%#x\n", uintptr(unsafe.Pointer(&counter)))), 0o600)
	}
	for i := 0; i < 3; i++ {
		go spin()
	}
	spin()
}
