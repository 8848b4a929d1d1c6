// Package device defines the vocabulary shared by every btwiz component:
// remote device identity, service identifiers, device filters, the error
// taxonomy, and the transport contract the core consumes.
//
// The transport contract covers:
//   - bonded-device enumeration and advertised service lookup
//   - scan start/cancel with lifecycle events pushed through a ScanHandler
//   - client socket creation (service-id based and low-level RFCOMM)
//   - server socket listen/accept
//
// Concrete bindings live in sub-packages (see internal/device/bluez).
package device
