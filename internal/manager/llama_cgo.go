//go:build llama

package manager

// cgo link directives for the in-process llama runtime: libllama.so is
// linked from ./bin and found at run time next to the binary via an
// $ORIGIN rpath.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
