package session

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/wire"
)

// ServerHandshake drives the server side of the attested handshake (spec
// §4.F): it announces the server's group/identity, waits for the client's
// acknowledgement, runs the SIGMA-style ECDH exchange, and authorizes the
// session once the client's quote verifies. On success c is left Connected
// with session keys installed; on any failure c is Failure and closed.
func ServerHandshake(c *Conn, identity *cryptoutil.Identity, groupID uint32, serverName string) error {
	tg := wire.TellGroupID{
		GroupID:      groupID,
		ServerName:   serverName,
		ServerPubkey: cryptoutil.EncodePublicKey(identity.PublicKey()),
	}
	if err := c.writeFrame(wire.TagAttestation, wire.EncodeTellGroupID(tg)); err != nil {
		return c.fail(fmt.Errorf("failed to send group id: %w", err))
	}

	msgType, payload, err := c.readFrame()
	if err != nil {
		return c.fail(fmt.Errorf("failed to read group id response: %w", err))
	}
	if msgType != wire.MsgGroupIDResponse {
		return c.fail(fmt.Errorf("expected group id response, got message type %d", msgType))
	}
	resp, err := wire.DecodeGroupIDResponse(payload)
	if err != nil {
		return c.fail(err)
	}
	if !resp.OK {
		return c.fail(fmt.Errorf("client rejected group id"))
	}
	c.setState(WaitingForMsg1)

	msgType, payload, err = c.readFrame()
	if err != nil {
		return c.fail(fmt.Errorf("failed to read attestation1: %w", err))
	}
	if msgType != wire.MsgAttestation1 {
		return c.fail(fmt.Errorf("expected attestation1, got message type %d", msgType))
	}
	msg1, err := wire.DecodeAttestation1(payload)
	if err != nil {
		return c.fail(err)
	}

	serverEph, err := cryptoutil.NewEphemeralKeyPair()
	if err != nil {
		return c.fail(fmt.Errorf("failed to generate ephemeral key: %w", err))
	}
	shared, err := serverEph.SharedSecret(msg1.GA)
	if err != nil {
		return c.fail(fmt.Errorf("failed to agree on shared secret: %w", err))
	}
	keys, err := cryptoutil.DeriveSessionKeys(shared)
	if err != nil {
		return c.fail(err)
	}

	sig, err := cryptoutil.Sign(identity.Private, append(append([]byte{}, serverEph.Public...), msg1.GA...))
	if err != nil {
		return c.fail(err)
	}
	cmacTag, err := cryptoutil.CMACTag(keys.SMK[:], append(append([]byte{}, serverEph.Public...), sig...))
	if err != nil {
		return c.fail(err)
	}
	msg2 := wire.Attestation2{GB: serverEph.Public, Signature: sig, CMAC: cmacTag}
	if err := c.writeFrame(wire.TagAttestation, wire.EncodeAttestation2(msg2)); err != nil {
		return c.fail(err)
	}
	c.setState(WaitingForMsg3)

	msgType, payload, err = c.readFrame()
	if err != nil {
		return c.fail(fmt.Errorf("failed to read attestation3: %w", err))
	}
	if msgType != wire.MsgAttestation3 {
		return c.fail(fmt.Errorf("expected attestation3, got message type %d", msgType))
	}
	msg3, err := wire.DecodeAttestation3(payload)
	if err != nil {
		return c.fail(err)
	}

	wantReport := reportData(msg1.GA, serverEph.Public, keys.VK)
	result := wire.AttestationResult{PlatformInfo: []byte(serverName)}
	if !bytes.Equal(wantReport, msg3.Quote) {
		result.Status = false
		result.FailureReason = "quote does not match expected report data"
		mac, macErr := cryptoutil.CMACTag(keys.MK[:], result.PlatformInfo)
		if macErr == nil {
			result.MAC = mac
		}
		_ = c.writeFrame(wire.TagAttestation, wire.EncodeAttestationResult(result))
		return c.fail(fmt.Errorf("quote verification failed"))
	}

	result.Status = true
	mac, err := cryptoutil.CMACTag(keys.MK[:], result.PlatformInfo)
	if err != nil {
		return c.fail(err)
	}
	result.MAC = mac
	if err := c.writeFrame(wire.TagAttestation, wire.EncodeAttestationResult(result)); err != nil {
		return c.fail(err)
	}

	c.keys = keys
	c.setState(Connected)
	return nil
}

// ClientHandshake drives the client side of the attested handshake. It
// verifies the connected server's name matches expectedServerName before
// proceeding (spec scenario: "Server names don't match" aborts with
// Failure and a closed connection), then completes the SIGMA exchange and
// checks the server's signature over the DH transcript.
func ClientHandshake(c *Conn, identity *cryptoutil.Identity, clientName, expectedServerName string) error {
	msgType, payload, err := c.readFrame()
	if err != nil {
		return c.fail(fmt.Errorf("failed to read group id: %w", err))
	}
	if msgType != wire.MsgTellGroupID {
		return c.fail(fmt.Errorf("expected group id, got message type %d", msgType))
	}
	tg, err := wire.DecodeTellGroupID(payload)
	if err != nil {
		return c.fail(err)
	}

	if tg.ServerName != expectedServerName {
		_ = c.writeFrame(wire.TagAttestation, wire.EncodeGroupIDResponse(wire.GroupIDResponse{OK: false, ClientName: clientName}))
		_ = c.Close()
		return c.fail(fmt.Errorf("Server names don't match"))
	}
	serverPub, err := cryptoutil.DecodePublicKey(tg.ServerPubkey)
	if err != nil {
		return c.fail(fmt.Errorf("invalid server pubkey: %w", err))
	}

	resp := wire.GroupIDResponse{OK: true, ClientName: clientName, ClientPubkey: cryptoutil.EncodePublicKey(identity.PublicKey())}
	if err := c.writeFrame(wire.TagAttestation, wire.EncodeGroupIDResponse(resp)); err != nil {
		return c.fail(err)
	}

	clientEph, err := cryptoutil.NewEphemeralKeyPair()
	if err != nil {
		return c.fail(fmt.Errorf("failed to generate ephemeral key: %w", err))
	}
	if err := c.writeFrame(wire.TagAttestation, wire.EncodeAttestation1(wire.Attestation1{GA: clientEph.Public})); err != nil {
		return c.fail(err)
	}

	msgType, payload, err = c.readFrame()
	if err != nil {
		return c.fail(fmt.Errorf("failed to read attestation2: %w", err))
	}
	if msgType != wire.MsgAttestation2 {
		return c.fail(fmt.Errorf("expected attestation2, got message type %d", msgType))
	}
	msg2, err := wire.DecodeAttestation2(payload)
	if err != nil {
		return c.fail(err)
	}

	shared, err := clientEph.SharedSecret(msg2.GB)
	if err != nil {
		return c.fail(fmt.Errorf("failed to agree on shared secret: %w", err))
	}
	keys, err := cryptoutil.DeriveSessionKeys(shared)
	if err != nil {
		return c.fail(err)
	}

	wantCMAC, err := cryptoutil.CMACTag(keys.SMK[:], append(append([]byte{}, msg2.GB...), msg2.Signature...))
	if err != nil {
		return c.fail(err)
	}
	if !bytes.Equal(wantCMAC, msg2.CMAC) {
		return c.fail(fmt.Errorf("attestation2 CMAC mismatch"))
	}
	if !cryptoutil.Verify(serverPub, append(append([]byte{}, msg2.GB...), clientEph.Public...), msg2.Signature) {
		return c.fail(fmt.Errorf("attestation2 signature verification failed"))
	}

	quote := reportData(clientEph.Public, msg2.GB, keys.VK)
	if err := c.writeFrame(wire.TagAttestation, wire.EncodeAttestation3(wire.Attestation3{Quote: quote})); err != nil {
		return c.fail(err)
	}

	msgType, payload, err = c.readFrame()
	if err != nil {
		return c.fail(fmt.Errorf("failed to read attestation result: %w", err))
	}
	if msgType != wire.MsgAttestationResult {
		return c.fail(fmt.Errorf("expected attestation result, got message type %d", msgType))
	}
	result, err := wire.DecodeAttestationResult(payload)
	if err != nil {
		return c.fail(err)
	}
	if !result.Status {
		return c.fail(fmt.Errorf("server rejected attestation: %s", result.FailureReason))
	}
	wantMAC, err := cryptoutil.CMACTag(keys.MK[:], result.PlatformInfo)
	if err != nil {
		return c.fail(err)
	}
	if !bytes.Equal(wantMAC, result.MAC) {
		return c.fail(fmt.Errorf("attestation result MAC mismatch"))
	}

	c.keys = keys
	c.setState(Connected)
	return nil
}

// reportData computes the quote binding hash SHA-256(g_a‖g_b‖VK) that
// stands in for a genuine SGX quote's report_data: real quote generation
// needs hardware attestation outside Go's reach, so both sides instead bind
// the session keys to this transcript hash.
func reportData(ga, gb []byte, vk [16]byte) []byte {
	h := sha256.New()
	h.Write(ga)
	h.Write(gb)
	h.Write(vk[:])
	return h.Sum(nil)
}
