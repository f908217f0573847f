package event

import (
	"bytes"

	"zapsplit.lol/chk"
	"zapsplit.lol/errorf"
	"zapsplit.lol/p256k"
	"zapsplit.lol/signer"
)

// Sign the event using the signer.I.
//
// Note that this only populates the Pubkey, ID and Sig. The caller must
// set the CreatedAt timestamp as intended.
func (ev *T) Sign(keys signer.I) (err error) {
	ev.Pubkey = keys.Pub()
	ev.ID = ev.GetIDBytes()
	if ev.Sig, err = keys.Sign(ev.ID); chk.E(err) {
		return
	}
	return
}

// Verify an event is signed by the pubkey it contains and that its ID is the
// hash of its canonical form.
func (ev *T) Verify() (valid bool, err error) {
	if !bytes.Equal(ev.ID, ev.GetIDBytes()) {
		err = errorf.E("event id %s does not match its content", ev.IDString())
		return
	}
	keys := p256k.Signer{}
	if err = keys.InitPub(ev.Pubkey); chk.D(err) {
		return
	}
	if valid, err = keys.Verify(ev.ID, ev.Sig); chk.D(err) {
		return
	}
	return
}
