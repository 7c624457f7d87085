// Package discovery maps haptic server names to network addresses over
// mDNS/DNS-SD.
//
// A control server advertises itself as an instance of ServiceType whose
// instance name is the server name. Clients resolve a remote name either
// directly (anything that parses as host:port) or by browsing for that
// instance.
package discovery
