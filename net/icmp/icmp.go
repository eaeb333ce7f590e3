// ICMP echo responder.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package icmp implements the ICMP layer: echo requests are
// answered by flipping the type to EchoReply and recomputing the checksum;
// every other type is dropped.
package icmp

import "github.com/foundryos/unikernel/net/wire"

// HandleEcho implements ipv4.ICMPHandler: payload is the full ICMP message
// (minus the IPv4 header); a Type=Echo request yields an EchoReply with the
// same id/sequence/payload and a freshly computed checksum.
func HandleEcho(payload []byte) (reply []byte, ok bool) {
	msg, err := wire.ICMPFromBytes(payload)
	if err != nil || !msg.VerifyChecksum() {
		return nil, false
	}

	if msg.Type() != wire.ICMPEchoRequest {
		return nil, false
	}

	out := wire.ZeroedICMP(len(msg.Payload()))
	out.SetType(wire.ICMPEchoReply)
	out.SetCode(0)
	out.SetIdentifier(msg.Identifier())
	out.SetSequence(msg.Sequence())
	out.SetPayload(msg.Payload())
	out.FinalizeChecksum()

	return out.IntoBytes(), true
}
