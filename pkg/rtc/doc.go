// Package rtc provides the clock peripheral protocol.
package rtc

// The protocol is spoken between the host and the real-time-clock firmware
// over a serial link. It is strictly half-duplex: the host sends one
// command and waits for its reply before anything else is sent.
//
// Set time:  'W' followed by ASCII decimal epoch seconds, no terminator.
//            The peripheral replies a single byte, '!' on success.
// Read time: 'R'. The peripheral replies up to ReadWidth bytes of ASCII
//            decimal (possibly fractional) epoch seconds.
//
// There is no framing, checksum or request ID. A corrupted acknowledgment
// is indistinguishable from a rejected time.
//
// Producer: RTC firmware
// Consumer: time sync daemon
