// Package handle maps integer handles to Go values that are lent to an
// engine for the duration of a call.
//
// A guest engine cannot hold Go pointers. When the adapter passes a stream to
// the engine, the stream is inserted into a Table and the guest receives the
// Handle. Host callbacks resolve the handle back to the stream:
//
//	table := handle.NewTable()
//
//	h, err := table.Insert(handle.KindStream, lb)
//	if err != nil {
//	    return err
//	}
//	defer table.Remove(h)
//
//	v, ok := table.Get(h, handle.KindStream)
//
// Handle 0 is reserved and always invalid, so a guest can use it as "none".
// Each handle carries the generation of its slot: once removed, a handle
// never resolves again, even after the slot is reused.
//
// # Observers
//
// Observers see every insert and removal, which makes lifetime leaks easy to
// assert in tests:
//
//	table.Subscribe(observer)
package handle
