// Package enginetest provides an in-memory ipcf.Engine for tests.
//
// The fake performs no protection. It wraps content in a plain marker
// header so round trips are observable, records every call, and counts
// every allocation it hands out so tests can assert that callers release
// each prompt context, marshaled string and output buffer exactly once:
//
//	eng := enginetest.New()
//	api := fileapi.New(eng)
//	...
//	if err := eng.CheckReleased(); err != nil {
//	    t.Fatal(err)
//	}
package enginetest
