// Package rasp implements the RASP transport linking the downhole probe,
// the uphole unit and a PC.
//
// A frame on the wire is
//
//	ESC SOH <header> ESC STX <body> ESC ETX <crc0> <crc1> <crc2> <crc3>
//
// Header and body bytes equal to ESC are stuffed as ESC ESC. The CRC
// covers the unstuffed header and body bytes and is sent least
// significant byte first without stuffing. The first three header bytes
// are the interface id (high byte first) and the command id; longer
// headers are checksummed but ignored.
//
// Receiving and transmitting are byte-level state machines advanced from
// the cooperative tick; nothing here blocks except the host side Client.
package rasp
