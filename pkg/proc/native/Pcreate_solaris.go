package native

import (
	"fmt"
	"unsafe"
)

// #cgo LDFLAGS: -lproc
// #include <stdlib.h>
// #include <libproc.h>
import "C"

// cStrings returns a NULL terminated copy of argv in C memory and the
// function that frees it.
func cStrings(argv []string) ([]*C.char, func()) {
	out := make([]*C.char, 0, len(argv)+1)
	for _, arg := range argv {
		out = append(out, C.CString(arg))
	}
	out = append(out, nil)
	return out, func() {
		for _, p := range out {
			C.free(unsafe.Pointer(p))
		}
	}
}

// pcreate execs file stopped on exit from exec. It also returns the path
// libproc resolved file to through PATH.
func pcreate(file string, argv []string) (*C.struct_ps_prochandle, string, error) {
	cfile := C.CString(file)
	defer C.free(unsafe.Pointer(cfile))
	cargv, free := cStrings(argv)
	defer free()

	var perr C.int
	resolved := make([]C.char, C.MAXPATHLEN)
	ph := C.Pcreate(cfile, &cargv[0], &perr, &resolved[0], C.MAXPATHLEN)
	if ph == nil {
		return nil, "", fmt.Errorf("Pcreate %s: %s", file, C.GoString(C.Pcreate_error(perr)))
	}
	return ph, C.GoString(&resolved[0]), nil
}
