/*
Package wire implements the two on-the-wire formats the system uses.

Registration announcements and data-plane samples share one versioned
envelope, `{magic=0xE5CA, version, kind, body_len, body}`: EncodeTopic/
EncodeProcess/EncodeService JSON-encode a model entry into body and set
Kind to the matching *Announce or *Unregister value; EncodeSample packs a
model.SampleEnvelope into a compact binary body instead, since it is the
hot path. Decode validates the magic number and that body_len fits the
buffer; a frame with trailing bytes beyond body_len is still valid, per
the additive-only version bump rule — decoders simply never look past
body_len.

Service server/client connections use a second, unrelated framing,
ServiceFrame: {magic, version, ret_state, request_id_len, request_id,
method_name_len, method_name, payload_len} plus payload. Read/
WriteServiceFrame operate on a single long-lived connection and are safe
to call repeatedly as requests and responses stream across it.
*/
package wire
