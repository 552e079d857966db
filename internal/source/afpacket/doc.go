// Package afpacket captures live traffic from a Linux interface through a
// TPACKET_V3 ring, optionally behind a BPF filter.
package afpacket
