// Package device defines the GATT transport port used by the frame link, the
// identifiers of the bottle firmware's image service, and the error taxonomy
// shared by the transport and the session.
//
// The port covers:
//   - Constructor-time capability probing (radio API present, adapter powered)
//   - Peripheral selection by advertised name filters
//   - Service and characteristic discovery on an established link
//   - Notification subscription, one-shot reads and writes
//   - Peripheral-initiated disconnect signalling
package device
