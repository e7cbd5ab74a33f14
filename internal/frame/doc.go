// Package frame provides bounds-checked, cursor-free field extraction from
// fixed-layout binary frames. Callers pass explicit offsets; every read is
// validated against the buffer length before any byte is touched.
package frame
