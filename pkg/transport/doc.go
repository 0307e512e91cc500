// Package transport defines the Transport interface that binds a
// flipperbridge session to a physical link, along with the shared pipe
// transport used in tests.
//
// # Capability interface, not inheritance
//
// Serial and BLE links differ wildly in how bytes move (a POSIX character
// device versus a GATT notify/write characteristic pair), but a session
// only needs three capabilities: write a run of bytes, read the next run
// of bytes, and close. Concrete drivers live in the serial and ble
// subpackages and only have to satisfy that contract; the framing layer
// above is oblivious to which one it got.
package transport
